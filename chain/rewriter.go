package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// QuestionRewriter rephrases a question to improve retrieval. The
// engine charges one unit of the rewrite budget per invocation.
type QuestionRewriter struct {
	model  llms.Model
	cfg    config.LLM
	logger log.Logger
}

// NewQuestionRewriter creates a rewriter for the question_rewriter
// role.
func NewQuestionRewriter(model llms.Model, cfg config.LLM, logger log.Logger) *QuestionRewriter {
	if logger == nil {
		logger = log.Default()
	}
	return &QuestionRewriter{model: model, cfg: cfg, logger: logger}
}

// Rewrite returns an improved phrasing of the question.
func (r *QuestionRewriter) Rewrite(ctx context.Context, question string) (string, error) {
	resp, err := generate(ctx, r.model, r.cfg, fmt.Sprintf(rewriterPrompt, question), true)
	if err != nil {
		return "", fmt.Errorf("question rewriter: %w", err)
	}

	if raw := extractJSONObject(resp); raw != "" {
		var out struct {
			ImprovedQuestion string `json:"improved_question"`
		}
		if err := json.Unmarshal([]byte(raw), &out); err == nil && strings.TrimSpace(out.ImprovedQuestion) != "" {
			return strings.TrimSpace(out.ImprovedQuestion), nil
		}
	}

	// The model answered in plain text; use it as-is rather than
	// burning the attempt.
	rewritten := strings.Trim(strings.TrimSpace(resp), `"`)
	if rewritten == "" {
		return "", fmt.Errorf("question rewriter: empty rewrite for %q", question)
	}
	r.logger.Debug("rewriter returned unstructured output, using raw text")
	return rewritten, nil
}
