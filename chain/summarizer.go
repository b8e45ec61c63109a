package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// Summary is the structured digest of a batch of log records.
type Summary struct {
	Summary      string   `json:"summary"`
	KeyEvents    []string `json:"key_events"`
	ErrorCount   int      `json:"error_count"`
	WarningCount int      `json:"warning_count"`
	StackTraces  []string `json:"stack_traces"`
}

// stackFrame matches one frame line of a stack trace inside a log
// record.
var stackFrame = regexp.MustCompile(`(?m)^\s*at\s+\S.*$`)

// LogSummarizer condenses retrieved log records and pulls out the
// stack traces they carry. The pipeline uses the traces to resolve
// related source code before answering.
type LogSummarizer struct {
	model  llms.Model
	cfg    config.LLM
	logger log.Logger
}

// NewLogSummarizer creates a summarizer for the log_summarizer role.
func NewLogSummarizer(model llms.Model, cfg config.LLM, logger log.Logger) *LogSummarizer {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSummarizer{model: model, cfg: cfg, logger: logger}
}

// Summarize digests the log records. When the model fails or returns
// something unparseable, the summarizer degrades to extracting stack
// traces directly from the text so code resolution still works.
func (s *LogSummarizer) Summarize(ctx context.Context, logs []string) Summary {
	combined := strings.Join(logs, "\n")

	resp, err := generate(ctx, s.model, s.cfg, fmt.Sprintf(summarizerPrompt, combined), true)
	if err != nil {
		s.logger.Warn("log summarizer failed, extracting stack traces directly: %v", err)
		return Summary{StackTraces: ExtractStackTraces(logs)}
	}

	raw := extractJSONObject(resp)
	if raw == "" {
		s.logger.Warn("log summarizer output unparseable, extracting stack traces directly")
		return Summary{StackTraces: ExtractStackTraces(logs)}
	}

	var summary Summary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		s.logger.Warn("log summarizer output unparseable, extracting stack traces directly: %v", err)
		return Summary{StackTraces: ExtractStackTraces(logs)}
	}

	summary.StackTraces = dedupe(summary.StackTraces)
	return summary
}

// ExtractStackTraces returns the log records that carry stack frames,
// deduplicated preserving first occurrence.
func ExtractStackTraces(logs []string) []string {
	var traces []string
	for _, entry := range logs {
		if stackFrame.MatchString(entry) || strings.Contains(entry, "stack:") {
			traces = append(traces, entry)
		}
	}
	return dedupe(traces)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
