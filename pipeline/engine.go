package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/busops/logsleuth/chain"
	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
	"github.com/busops/logsleuth/retriever"
	"github.com/busops/logsleuth/transport"
)

// Narrow views of the chain components. The engine depends on
// behavior, not on the concrete LLM-backed types, so tests can drive
// it with fakes.
type (
	// RelevanceGrader judges one (question, document) pair.
	RelevanceGrader interface {
		Grade(ctx context.Context, question, document string) (chain.Verdict, error)
	}

	// AnswerGrader judges whether the generation addresses the question.
	AnswerGrader interface {
		Grade(ctx context.Context, question, generation string) (chain.Verdict, error)
	}

	// GroundingGrader judges whether the generation is supported by the
	// evidence.
	GroundingGrader interface {
		Grade(ctx context.Context, generation, documents string) (chain.Verdict, error)
	}

	// Rewriter rephrases the question to improve retrieval.
	Rewriter interface {
		Rewrite(ctx context.Context, question string) (string, error)
	}

	// Answerer produces the final answer from the gathered evidence.
	Answerer interface {
		Answer(ctx context.Context, question, logs, stackTrace, code string) (string, error)
	}

	// Summarizer digests log records and surfaces their stack traces.
	Summarizer interface {
		Summarize(ctx context.Context, logs []string) chain.Summary
	}
)

// Deps are the collaborators the engine sequences. Logs, the graders,
// the rewriter and the answerer are required; Docstore, Code and
// Summarizer are optional enrichments.
type Deps struct {
	Logs       retriever.Retriever
	Docstore   retriever.Retriever
	Code       retriever.Retriever
	Relevance  RelevanceGrader
	Answer     AnswerGrader
	Grounding  GroundingGrader
	Rewriter   Rewriter
	Answerer   Answerer
	Summarizer Summarizer
}

// Engine runs the reasoning pipeline for operator messages. It is safe
// for concurrent use; each Run owns its State exclusively.
type Engine struct {
	deps     Deps
	notifier transport.Transport

	rewriteBudget    int
	regenerateBudget int
	gradeConcurrency int

	logger log.Logger
}

// New builds the engine. notifier receives progress updates and the
// final message; its failures are logged, never fatal.
func New(cfg config.Pipeline, deps Deps, notifier transport.Transport, logger log.Logger) (*Engine, error) {
	if deps.Logs == nil {
		return nil, fmt.Errorf("pipeline engine needs a log retriever")
	}
	if deps.Relevance == nil || deps.Answer == nil || deps.Grounding == nil {
		return nil, fmt.Errorf("pipeline engine needs all three graders")
	}
	if deps.Rewriter == nil || deps.Answerer == nil {
		return nil, fmt.Errorf("pipeline engine needs a rewriter and an answerer")
	}
	if notifier == nil {
		return nil, fmt.Errorf("pipeline engine needs a transport")
	}
	if logger == nil {
		logger = log.Default()
	}

	concurrency := cfg.GradeConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		deps:             deps,
		notifier:         notifier,
		rewriteBudget:    cfg.RewriteAttempts,
		regenerateBudget: cfg.RegenerateAttempts,
		gradeConcurrency: concurrency,
		logger:           logger,
	}, nil
}

// Run executes the pipeline for one operator message and returns the
// final answer text, or an error when a stage fails. The error has
// already been reported to the operator by the time Run returns.
func (e *Engine) Run(ctx context.Context, chatID int64, question string) (string, error) {
	state := &State{
		RunID:            uuid.NewString(),
		ChatID:           chatID,
		Question:         question,
		OriginalQuestion: question,
		RewriteBudget:    e.rewriteBudget,
		RegenerateBudget: e.regenerateBudget,
	}
	e.logger.Info("[%s] pipeline start: %q", state.RunID, question)

	status := newStatusReporter(e.notifier, chatID, e.logger)
	stage := StageRetrieve

	// Every rewrite replays at most three stages and every regeneration
	// two, so this bound is never reached by a well-behaved run.
	maxSteps := 3*(e.rewriteBudget+e.regenerateBudget) + 12
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("[%s] pipeline cancelled at %s", state.RunID, stage)
			return "", err
		}
		status.report(ctx, stage, state)

		var (
			next Stage
			err  error
		)
		switch stage {
		case StageRetrieve:
			next, err = e.retrieve(ctx, state)
		case StageGradeDocs:
			next, err = e.gradeDocs(ctx, state)
		case StageRewrite:
			next, err = e.rewrite(ctx, state)
		case StageGenerate:
			next, err = e.generate(ctx, state)
		case StageGradeAnswer:
			next, err = e.gradeAnswer(ctx, state)
		case StageDone:
			e.logger.Info("[%s] pipeline done", state.RunID)
			e.finish(ctx, chatID, state.Generation)
			return state.Generation, nil
		case StageGiveUp:
			e.logger.Info("[%s] pipeline gave up: addresses=%s grounded=%s", state.RunID, state.LastAnswerVerdict, state.LastGroundingVerdict)
			e.finish(ctx, chatID, e.giveUpMessage(state))
			return "", fmt.Errorf("pipeline gave up after exhausting attempts")
		default:
			return "", fmt.Errorf("unknown pipeline stage %q", stage)
		}
		if err != nil {
			e.logger.Error("[%s] stage %s failed: %v", state.RunID, stage, err)
			e.finish(ctx, chatID, "Sorry, the investigation failed: "+err.Error())
			return "", fmt.Errorf("stage %s: %w", stage, err)
		}
		e.logger.Debug("[%s] %s -> %s (rewrite=%d regenerate=%d docs=%d)",
			state.RunID, stage, next, state.RewriteBudget, state.RegenerateBudget, len(state.Documents))
		stage = next
	}
	err := fmt.Errorf("pipeline exceeded %d steps", maxSteps)
	e.finish(ctx, chatID, "Sorry, the investigation failed: "+err.Error())
	return "", err
}

// retrieve queries the log index and, when configured, the document
// store concurrently. A log-index failure is fatal for the run; a
// document-store failure only costs its enrichment.
func (e *Engine) retrieve(ctx context.Context, state *State) (Stage, error) {
	logCh := retriever.SearchAsync(ctx, e.deps.Logs, state.Question)

	var docCh <-chan retriever.SearchResult
	if e.deps.Docstore != nil {
		docCh = retriever.SearchAsync(ctx, e.deps.Docstore, state.Question)
	}

	logRes := <-logCh
	if logRes.Err != nil {
		return "", fmt.Errorf("log retrieval: %w", logRes.Err)
	}
	state.Documents = logRes.Documents

	if docCh != nil {
		docRes := <-docCh
		if docRes.Err != nil {
			e.logger.Warn("[%s] document store retrieval failed: %v", state.RunID, docRes.Err)
		} else {
			state.Documents = append(state.Documents, docRes.Documents...)
		}
	}

	e.logger.Info("[%s] retrieved %d documents", state.RunID, len(state.Documents))
	return StageGradeDocs, nil
}

// gradeDocs fans the relevance grader out over every document, keeps
// the yes-graded ones in their original order and drops duplicates. A
// single grader failure drops its document, never the stage.
func (e *Engine) gradeDocs(ctx context.Context, state *State) (Stage, error) {
	keep := make([]bool, len(state.Documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.gradeConcurrency)
	for i, doc := range state.Documents {
		i, doc := i, doc
		g.Go(func() error {
			verdict, err := e.deps.Relevance.Grade(gctx, state.Question, doc.Content)
			if err != nil {
				e.logger.Warn("[%s] relevance grading failed for document %d: %v", state.RunID, i, err)
				return nil
			}
			keep[i] = verdict == chain.Yes
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	filtered := state.Documents[:0]
	for i, doc := range state.Documents {
		if !keep[i] {
			continue
		}
		key, _ := doc.Metadata[retriever.MetaSource].(string)
		key += "\x00" + doc.Content
		if seen[key] {
			continue
		}
		seen[key] = true
		filtered = append(filtered, doc)
	}
	state.Documents = filtered

	e.logger.Info("[%s] %d documents relevant after grading", state.RunID, len(state.Documents))
	if len(state.Documents) == 0 && state.RewriteBudget > 1 {
		return StageRewrite, nil
	}
	return StageGenerate, nil
}

// rewrite rephrases the question, charging one unit of the rewrite
// budget, and loops back to retrieval.
func (e *Engine) rewrite(ctx context.Context, state *State) (Stage, error) {
	state.RewriteBudget--

	rewritten, err := e.deps.Rewriter.Rewrite(ctx, state.Question)
	if err != nil {
		return "", err
	}
	e.logger.Info("[%s] rewrote question to %q (%d rewrites left)", state.RunID, rewritten, state.RewriteBudget)
	state.Question = rewritten
	return StageRetrieve, nil
}

// generate digests the evidence, resolves code for any stack traces
// the logs carry and produces the answer.
func (e *Engine) generate(ctx context.Context, state *State) (Stage, error) {
	logs := make([]string, 0, len(state.Documents))
	for _, doc := range state.Documents {
		logs = append(logs, doc.Content)
	}

	if e.deps.Summarizer != nil {
		summary := e.deps.Summarizer.Summarize(ctx, logs)
		state.StackTraces = summary.StackTraces
	} else {
		state.StackTraces = chain.ExtractStackTraces(logs)
	}

	if e.deps.Code != nil && len(state.StackTraces) > 0 {
		codeDocs, err := e.deps.Code.Search(ctx, strings.Join(state.StackTraces, "\n"))
		if err != nil {
			e.logger.Warn("[%s] code retrieval failed: %v", state.RunID, err)
		} else {
			state.CodeDocs = codeDocs
		}
	}

	code := make([]string, 0, len(state.CodeDocs))
	for _, doc := range state.CodeDocs {
		code = append(code, doc.Content)
	}

	generation, err := e.deps.Answerer.Answer(ctx,
		state.OriginalQuestion,
		strings.Join(logs, "\n\n"),
		strings.Join(state.StackTraces, "\n\n"),
		strings.Join(code, "\n\n"))
	if err != nil {
		return "", err
	}
	state.Generation = generation
	return StageGradeAnswer, nil
}

// gradeAnswer invokes the answer grader and the grounding grader
// concurrently, then picks the next stage. A grader failure has
// already degraded to a no verdict.
func (e *Engine) gradeAnswer(ctx context.Context, state *State) (Stage, error) {
	evidence := make([]string, 0, len(state.Documents)+len(state.CodeDocs))
	for _, doc := range state.Documents {
		evidence = append(evidence, doc.Content)
	}
	for _, doc := range state.CodeDocs {
		evidence = append(evidence, doc.Content)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		verdict, err := e.deps.Answer.Grade(ctx, state.OriginalQuestion, state.Generation)
		if err != nil {
			e.logger.Warn("[%s] answer grading failed: %v", state.RunID, err)
		}
		state.LastAnswerVerdict = verdict
	}()
	go func() {
		defer wg.Done()
		verdict, err := e.deps.Grounding.Grade(ctx, state.Generation, strings.Join(evidence, "\n\n"))
		if err != nil {
			e.logger.Warn("[%s] grounding grading failed: %v", state.RunID, err)
		}
		state.LastGroundingVerdict = verdict
	}()
	wg.Wait()

	e.logger.Info("[%s] answer grades: addresses=%s grounded=%s", state.RunID, state.LastAnswerVerdict, state.LastGroundingVerdict)

	switch {
	case state.LastAnswerVerdict == chain.Yes && state.LastGroundingVerdict == chain.Yes:
		return StageDone, nil
	case state.LastGroundingVerdict == chain.No && state.RegenerateBudget > 1:
		state.RegenerateBudget--
		return StageGenerate, nil
	case state.LastAnswerVerdict == chain.No && state.RewriteBudget > 1:
		return StageRewrite, nil
	default:
		return StageGiveUp, nil
	}
}

func (e *Engine) giveUpMessage(state *State) string {
	return fmt.Sprintf(
		"I could not produce a trustworthy answer (addresses question: %s, grounded in evidence: %s). Try rephrasing the question or narrowing the time range.",
		state.LastAnswerVerdict, state.LastGroundingVerdict)
}

// finish sends the single final message of the run.
func (e *Engine) finish(ctx context.Context, chatID int64, text string) {
	if _, err := e.notifier.Send(ctx, chatID, text); err != nil {
		e.logger.Warn("final message delivery failed: %v", err)
	}
}

// statusReporter maintains the single in-progress status message,
// editing it in place on every transition. All failures are logged and
// swallowed.
type statusReporter struct {
	notifier transport.Transport
	chatID   int64
	handle   transport.MessageHandle
	sent     bool
	logger   log.Logger
}

func newStatusReporter(notifier transport.Transport, chatID int64, logger log.Logger) *statusReporter {
	return &statusReporter{notifier: notifier, chatID: chatID, logger: logger}
}

func (s *statusReporter) report(ctx context.Context, stage Stage, state *State) {
	text := statusText(stage, state)
	if text == "" {
		return
	}
	if !s.sent {
		handle, err := s.notifier.Send(ctx, s.chatID, text)
		if err != nil {
			s.logger.Warn("status message failed: %v", err)
			return
		}
		s.handle = handle
		s.sent = true
		return
	}
	if err := s.notifier.Edit(ctx, s.chatID, s.handle, text); err != nil {
		s.logger.Warn("status edit failed: %v", err)
	}
}

func statusText(stage Stage, state *State) string {
	switch stage {
	case StageRetrieve:
		return "Searching logs..."
	case StageGradeDocs:
		return fmt.Sprintf("Checking %d retrieved records for relevance...", len(state.Documents))
	case StageRewrite:
		return "Nothing relevant found, rephrasing the question..."
	case StageGenerate:
		return "Writing up the findings..."
	case StageGradeAnswer:
		return "Verifying the answer against the evidence..."
	default:
		return ""
	}
}
