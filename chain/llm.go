// Package chain holds the LLM-backed components of the pipeline:
// graders, the question rewriter, the answerer and the log summarizer.
// Each component is a thin prompt-plus-model chain; prompts live in
// prompts.go as named constants.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/busops/logsleuth/config"
)

// New builds the model client for one LLM role.
func New(cfg config.LLM) (llms.Model, error) {
	switch cfg.Provider {
	case "", "ollama":
		opts := []ollama.Option{
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		}
		if cfg.NumCtx > 0 {
			opts = append(opts, ollama.WithRunnerNumCtx(cfg.NumCtx))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("ollama client for %s: %w", cfg.Model, err)
		}
		return model, nil
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai client for %s: %w", cfg.Model, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Verdict is a binary grading outcome. Anything a grader returns that
// is not recognizably "yes" counts as No.
type Verdict string

const (
	Yes Verdict = "yes"
	No  Verdict = "no"
)

// parseVerdict reads a grader response. Graders are asked for
// {"binary_score": "yes"|"no"}; a bare yes/no is accepted too.
func parseVerdict(resp string) Verdict {
	if raw := extractJSONObject(resp); raw != "" {
		var out struct {
			BinaryScore string `json:"binary_score"`
		}
		if err := json.Unmarshal([]byte(raw), &out); err == nil {
			if strings.EqualFold(strings.TrimSpace(out.BinaryScore), "yes") {
				return Yes
			}
			return No
		}
	}
	if strings.EqualFold(strings.TrimSpace(resp), "yes") {
		return Yes
	}
	return No
}

// generate runs one prompt through the role's model with the role's
// sampling settings and timeout.
func generate(ctx context.Context, model llms.Model, cfg config.LLM, prompt string, jsonMode bool, extra ...llms.CallOption) (string, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	opts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}
	opts = append(opts, extra...)

	return llms.GenerateFromSinglePrompt(ctx, model, prompt, opts...)
}

// extractJSONObject returns the outermost {...} span of s, tolerating
// prose or code fences around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
