package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

const stackTraceLog = `TypeError: Cannot read properties of undefined
    at Service.handler (/app/services/crm.service.js:199:13)
    at async /app/middlewares/metricsMiddleware.js:16:17`

func TestSummarizerParsesModelOutput(t *testing.T) {
	model := &fakeModel{responses: []string{`{
		"summary": "Two upload failures followed by a crash.",
		"key_events": ["upload failed", "service crashed"],
		"error_count": 2,
		"warning_count": 1,
		"stack_traces": ["at Service.handler (/app/services/crm.service.js:199:13)"]
	}`}}
	s := NewLogSummarizer(model, config.LLM{}, log.NoOpLogger{})

	summary := s.Summarize(context.Background(), []string{"upload failed", "service crashed"})
	assert.Equal(t, "Two upload failures followed by a crash.", summary.Summary)
	assert.Equal(t, 2, summary.ErrorCount)
	assert.Equal(t, 1, summary.WarningCount)
	require.Len(t, summary.StackTraces, 1)
}

func TestSummarizerDegradesOnModelError(t *testing.T) {
	s := NewLogSummarizer(&fakeModel{err: errors.New("down")}, config.LLM{}, log.NoOpLogger{})

	summary := s.Summarize(context.Background(), []string{"all good", stackTraceLog})
	assert.Empty(t, summary.Summary)
	assert.Equal(t, []string{stackTraceLog}, summary.StackTraces)
}

func TestSummarizerDegradesOnUnparseableOutput(t *testing.T) {
	s := NewLogSummarizer(&fakeModel{responses: []string{"not json at all"}}, config.LLM{}, log.NoOpLogger{})

	summary := s.Summarize(context.Background(), []string{stackTraceLog})
	assert.Equal(t, []string{stackTraceLog}, summary.StackTraces)
}

func TestExtractStackTraces(t *testing.T) {
	logs := []string{
		"plain info line",
		stackTraceLog,
		"error with stack: Error: boom",
		stackTraceLog,
	}

	traces := ExtractStackTraces(logs)
	assert.Equal(t, []string{stackTraceLog, "error with stack: Error: boom"}, traces)
}

func TestExtractStackTracesEmpty(t *testing.T) {
	assert.Empty(t, ExtractStackTraces([]string{"nothing here", "still nothing"}))
}
