package chain

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// Answerer produces the final free-form answer from the question and
// the gathered evidence.
type Answerer struct {
	model  llms.Model
	cfg    config.LLM
	logger log.Logger
}

// NewAnswerer creates an answerer for the answerer role.
func NewAnswerer(model llms.Model, cfg config.LLM, logger log.Logger) *Answerer {
	if logger == nil {
		logger = log.Default()
	}
	return &Answerer{model: model, cfg: cfg, logger: logger}
}

// Answer generates an answer from the question, the log context, the
// extracted stack traces and the resolved code snippets. Empty
// evidence sections are passed through as empty; the prompt forbids
// inventing content that is absent from the inputs.
func (a *Answerer) Answer(ctx context.Context, question, logs, stackTrace, code string) (string, error) {
	resp, err := generate(ctx, a.model, a.cfg, a.prompt(question, logs, stackTrace, code), false)
	if err != nil {
		return "", fmt.Errorf("answerer: %w", err)
	}
	return resp, nil
}

// Stream generates the answer while delivering chunks to fn as they
// arrive. The complete answer is returned once generation finishes.
func (a *Answerer) Stream(ctx context.Context, question, logs, stackTrace, code string, fn func(chunk string)) (string, error) {
	resp, err := generate(ctx, a.model, a.cfg, a.prompt(question, logs, stackTrace, code), false,
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			fn(string(chunk))
			return nil
		}))
	if err != nil {
		return "", fmt.Errorf("answerer: %w", err)
	}
	return resp, nil
}

func (a *Answerer) prompt(question, logs, stackTrace, code string) string {
	return fmt.Sprintf(answererPrompt, question, orNone(logs), orNone(stackTrace), orNone(code))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
