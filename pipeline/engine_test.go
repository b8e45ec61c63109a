package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busops/logsleuth/chain"
	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
	"github.com/busops/logsleuth/retriever"
	"github.com/busops/logsleuth/transport"
)

// retrieverFunc adapts a function to the Retriever capability and
// records the questions it served.
type retrieverFunc struct {
	mu        sync.Mutex
	questions []string
	fn        func(question string) ([]retriever.Document, error)
}

func (r *retrieverFunc) Search(_ context.Context, question string) ([]retriever.Document, error) {
	r.mu.Lock()
	r.questions = append(r.questions, question)
	r.mu.Unlock()
	return r.fn(question)
}

// gradeFunc satisfies all three grader interfaces.
type gradeFunc func(a, b string) (chain.Verdict, error)

func (f gradeFunc) Grade(_ context.Context, a, b string) (chain.Verdict, error) { return f(a, b) }

// verdictSequence returns the scripted verdicts in order, repeating
// the last one.
func verdictSequence(verdicts ...chain.Verdict) gradeFunc {
	var mu sync.Mutex
	call := 0
	return func(_, _ string) (chain.Verdict, error) {
		mu.Lock()
		defer mu.Unlock()
		idx := call
		if idx >= len(verdicts) {
			idx = len(verdicts) - 1
		}
		call++
		return verdicts[idx], nil
	}
}

func always(v chain.Verdict) gradeFunc {
	return func(_, _ string) (chain.Verdict, error) { return v, nil }
}

type rewriterFunc func(question string) (string, error)

func (f rewriterFunc) Rewrite(_ context.Context, question string) (string, error) {
	return f(question)
}

// recordingAnswerer counts calls and keeps the evidence it was given.
type recordingAnswerer struct {
	mu     sync.Mutex
	calls  int
	logs   []string
	code   []string
	traces []string
	answer string
	err    error
}

func (a *recordingAnswerer) Answer(_ context.Context, _, logs, stackTrace, code string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.logs = append(a.logs, logs)
	a.traces = append(a.traces, stackTrace)
	a.code = append(a.code, code)
	if a.err != nil {
		return "", a.err
	}
	return a.answer, nil
}

// recordingTransport captures everything sent and edited.
type recordingTransport struct {
	mu    sync.Mutex
	sends []string
	edits []string
	err   error
}

func (t *recordingTransport) Send(_ context.Context, _ int64, text string) (transport.MessageHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return 0, t.err
	}
	t.sends = append(t.sends, text)
	return transport.MessageHandle(len(t.sends)), nil
}

func (t *recordingTransport) Edit(_ context.Context, _ int64, _ transport.MessageHandle, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.edits = append(t.edits, text)
	return nil
}

func (t *recordingTransport) lastSend() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sends) == 0 {
		return ""
	}
	return t.sends[len(t.sends)-1]
}

func logDocs(contents ...string) []retriever.Document {
	docs := make([]retriever.Document, 0, len(contents))
	for _, c := range contents {
		docs = append(docs, retriever.Document{
			Content:  c,
			Metadata: map[string]any{retriever.MetaSource: retriever.SourceLogs},
		})
	}
	return docs
}

func staticRetriever(docs []retriever.Document) *retrieverFunc {
	return &retrieverFunc{fn: func(string) ([]retriever.Document, error) { return docs, nil }}
}

func testPipelineConfig() config.Pipeline {
	return config.Pipeline{RewriteAttempts: 3, RegenerateAttempts: 2, GradeConcurrency: 4}
}

func newTestEngine(t *testing.T, cfg config.Pipeline, deps Deps, notifier transport.Transport) *Engine {
	t.Helper()
	if deps.Rewriter == nil {
		deps.Rewriter = rewriterFunc(func(q string) (string, error) { return "rewritten: " + q, nil })
	}
	e, err := New(cfg, deps, notifier, log.NoOpLogger{})
	require.NoError(t, err)
	return e
}

func TestEngineHappyPath(t *testing.T) {
	answerer := &recordingAnswerer{answer: "the upload of order PSV-745559 failed"}
	notifier := &recordingTransport{}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("upload failed order=PSV-745559")),
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, notifier)

	got, err := e.Run(context.Background(), 42, "What happened with order PSV-745559?")
	require.NoError(t, err)
	assert.Equal(t, "the upload of order PSV-745559 failed", got)
	assert.Equal(t, 1, answerer.calls)

	// One status message edited in place, one final message.
	require.Len(t, notifier.sends, 2)
	assert.Equal(t, got, notifier.lastSend())
	assert.NotEmpty(t, notifier.edits)
}

func TestEngineExhaustedRewriteBudgetGivesUp(t *testing.T) {
	rewrites := 0
	answerer := &recordingAnswerer{answer: "nothing conclusive"}
	notifier := &recordingTransport{}
	e := newTestEngine(t, config.Pipeline{RewriteAttempts: 1, RegenerateAttempts: 1, GradeConcurrency: 4}, Deps{
		Logs:      staticRetriever(nil),
		Relevance: always(chain.No),
		Answer:    always(chain.No),
		Grounding: always(chain.No),
		Answerer:  answerer,
		Rewriter: rewriterFunc(func(q string) (string, error) {
			rewrites++
			return q, nil
		}),
	}, notifier)

	_, err := e.Run(context.Background(), 1, "question with no evidence")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up")

	// With the budget at 1 there is no rewrite: the engine generates
	// from empty evidence and gives up after grading.
	assert.Equal(t, 0, rewrites)
	assert.Equal(t, 1, answerer.calls)
	assert.Contains(t, notifier.lastSend(), "no")
}

func TestEngineUngroundedAnswerRecovered(t *testing.T) {
	answerer := &recordingAnswerer{answer: "grounded on the second try"}
	notifier := &recordingTransport{}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("a log line")),
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: verdictSequence(chain.No, chain.Yes),
		Answerer:  answerer,
	}, notifier)

	got, err := e.Run(context.Background(), 1, "question")
	require.NoError(t, err)
	assert.Equal(t, "grounded on the second try", got)
	assert.Equal(t, 2, answerer.calls)
}

func TestEngineRewritesOnEmptyEvidence(t *testing.T) {
	retrieved := &retrieverFunc{fn: func(question string) ([]retriever.Document, error) {
		if strings.HasPrefix(question, "rewritten:") {
			return logDocs("found after rewrite"), nil
		}
		return nil, nil
	}}
	answerer := &recordingAnswerer{answer: "answer"}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      retrieved,
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{})

	_, err := e.Run(context.Background(), 1, "vague question")
	require.NoError(t, err)

	require.Len(t, retrieved.questions, 2)
	assert.Equal(t, "vague question", retrieved.questions[0])
	assert.Equal(t, "rewritten: vague question", retrieved.questions[1])
	require.Len(t, answerer.logs, 1)
	assert.Equal(t, "found after rewrite", answerer.logs[0])
}

func TestEngineGradingPreservesOrderAndDedupes(t *testing.T) {
	answerer := &recordingAnswerer{answer: "answer"}
	docs := logDocs("alpha", "beta", "gamma", "alpha", "delta")
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs: staticRetriever(docs),
		Relevance: gradeFunc(func(_, doc string) (chain.Verdict, error) {
			if doc == "gamma" {
				return chain.No, nil
			}
			return chain.Yes, nil
		}),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{})

	_, err := e.Run(context.Background(), 1, "question")
	require.NoError(t, err)

	require.Len(t, answerer.logs, 1)
	assert.Equal(t, "alpha\n\nbeta\n\ndelta", answerer.logs[0])
}

func TestEngineGraderFailureDropsDocumentOnly(t *testing.T) {
	answerer := &recordingAnswerer{answer: "answer"}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs: staticRetriever(logDocs("good", "bad")),
		Relevance: gradeFunc(func(_, doc string) (chain.Verdict, error) {
			if doc == "bad" {
				return chain.No, errors.New("grader crashed")
			}
			return chain.Yes, nil
		}),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{})

	_, err := e.Run(context.Background(), 1, "question")
	require.NoError(t, err)
	assert.Equal(t, "good", answerer.logs[0])
}

func TestEngineAppendsDocstoreResults(t *testing.T) {
	answerer := &recordingAnswerer{answer: "answer"}
	docstore := staticRetriever([]retriever.Document{{
		Content:  "agreement record",
		Metadata: map[string]any{retriever.MetaSource: retriever.SourceDocstore},
	}})
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("a log line")),
		Docstore:  docstore,
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{})

	_, err := e.Run(context.Background(), 1, "question")
	require.NoError(t, err)
	assert.Equal(t, "a log line\n\nagreement record", answerer.logs[0])
}

func TestEngineDocstoreFailureIsNotFatal(t *testing.T) {
	answerer := &recordingAnswerer{answer: "answer"}
	docstore := &retrieverFunc{fn: func(string) ([]retriever.Document, error) {
		return nil, errors.New("mongo down")
	}}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("a log line")),
		Docstore:  docstore,
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{})

	got, err := e.Run(context.Background(), 1, "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
}

func TestEngineResolvesCodeForStackTraces(t *testing.T) {
	trace := "Error: boom\n    at Service.handler (/app/services/crm.service.js:199:13)"
	code := &retrieverFunc{fn: func(string) ([]retriever.Document, error) {
		return []retriever.Document{{
			Content:  "async handler(req) { ... }",
			Metadata: map[string]any{retriever.MetaSource: retriever.SourceCode},
		}}, nil
	}}
	answerer := &recordingAnswerer{answer: "answer"}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs(trace, "unrelated line")),
		Code:      code,
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{})

	_, err := e.Run(context.Background(), 1, "why did it crash?")
	require.NoError(t, err)

	require.Len(t, code.questions, 1)
	assert.Contains(t, code.questions[0], "crm.service.js")
	assert.Equal(t, trace, answerer.traces[0])
	assert.Equal(t, "async handler(req) { ... }", answerer.code[0])
}

func TestEngineTransportFailureIsNotFatal(t *testing.T) {
	answerer := &recordingAnswerer{answer: "answer"}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("a log line")),
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  answerer,
	}, &recordingTransport{err: errors.New("network flap")})

	got, err := e.Run(context.Background(), 1, "question")
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
}

func TestEngineRetrievalFailureEndsRun(t *testing.T) {
	notifier := &recordingTransport{}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs: &retrieverFunc{fn: func(string) ([]retriever.Document, error) {
			return nil, errors.New("index unreachable")
		}},
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  &recordingAnswerer{answer: "unused"},
	}, notifier)

	_, err := e.Run(context.Background(), 1, "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve")
	assert.Contains(t, notifier.lastSend(), "failed")
}

func TestEngineAlwaysTerminates(t *testing.T) {
	// Every verdict is no: the engine must burn through both budgets
	// and give up rather than loop.
	answerer := &recordingAnswerer{answer: "weak answer"}
	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("a log line")),
		Relevance: always(chain.Yes),
		Answer:    always(chain.No),
		Grounding: always(chain.No),
		Answerer:  answerer,
	}, &recordingTransport{})

	_, err := e.Run(context.Background(), 1, "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up")
	assert.LessOrEqual(t, answerer.calls, 8)
}

func TestEngineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, testPipelineConfig(), Deps{
		Logs:      staticRetriever(logDocs("a log line")),
		Relevance: always(chain.Yes),
		Answer:    always(chain.Yes),
		Grounding: always(chain.Yes),
		Answerer:  &recordingAnswerer{answer: "unused"},
	}, &recordingTransport{})

	_, err := e.Run(ctx, 1, "question")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineRejectsMissingDependencies(t *testing.T) {
	_, err := New(testPipelineConfig(), Deps{}, &recordingTransport{}, log.NoOpLogger{})
	assert.Error(t, err)
}
