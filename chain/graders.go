package chain

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// RelevanceGrader judges whether one retrieved document is relevant to
// the question. The engine fans it out over every document; a failed
// call counts as a "no" for that document only.
type RelevanceGrader struct {
	model  llms.Model
	cfg    config.LLM
	logger log.Logger
}

// NewRelevanceGrader creates a relevance grader for the
// retrieval_grader role.
func NewRelevanceGrader(model llms.Model, cfg config.LLM, logger log.Logger) *RelevanceGrader {
	if logger == nil {
		logger = log.Default()
	}
	return &RelevanceGrader{model: model, cfg: cfg, logger: logger}
}

// Grade returns the binary relevance verdict for (question, document).
// On error the verdict is No.
func (g *RelevanceGrader) Grade(ctx context.Context, question, document string) (Verdict, error) {
	resp, err := generate(ctx, g.model, g.cfg, fmt.Sprintf(relevanceGraderPrompt, document, question), true)
	if err != nil {
		return No, fmt.Errorf("relevance grader: %w", err)
	}
	return parseVerdict(resp), nil
}

// AnswerGrader judges whether the generated answer addresses the
// operator's question.
type AnswerGrader struct {
	model  llms.Model
	cfg    config.LLM
	logger log.Logger
}

// NewAnswerGrader creates a grader for the answer_grader role.
func NewAnswerGrader(model llms.Model, cfg config.LLM, logger log.Logger) *AnswerGrader {
	if logger == nil {
		logger = log.Default()
	}
	return &AnswerGrader{model: model, cfg: cfg, logger: logger}
}

// Grade returns whether generation addresses question. On error the
// verdict is No.
func (g *AnswerGrader) Grade(ctx context.Context, question, generation string) (Verdict, error) {
	resp, err := generate(ctx, g.model, g.cfg, fmt.Sprintf(answerGraderPrompt, question, generation), true)
	if err != nil {
		return No, fmt.Errorf("answer grader: %w", err)
	}
	return parseVerdict(resp), nil
}

// GroundingGrader judges whether the generated answer is supported by
// the retrieved evidence.
type GroundingGrader struct {
	model  llms.Model
	cfg    config.LLM
	logger log.Logger
}

// NewGroundingGrader creates a grader for the hallucination_grader
// role.
func NewGroundingGrader(model llms.Model, cfg config.LLM, logger log.Logger) *GroundingGrader {
	if logger == nil {
		logger = log.Default()
	}
	return &GroundingGrader{model: model, cfg: cfg, logger: logger}
}

// Grade returns whether generation is grounded in documents. On error
// the verdict is No.
func (g *GroundingGrader) Grade(ctx context.Context, generation, documents string) (Verdict, error) {
	resp, err := generate(ctx, g.model, g.cfg, fmt.Sprintf(groundingGraderPrompt, documents, generation), true)
	if err != nil {
		return No, fmt.Errorf("grounding grader: %w", err)
	}
	return parseVerdict(resp), nil
}
