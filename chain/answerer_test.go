package chain

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

func TestAnswererIncludesEvidenceInPrompt(t *testing.T) {
	model := &fakeModel{responses: []string{"Order PSV-745559 failed to upload."}}
	a := NewAnswerer(model, config.LLM{}, log.NoOpLogger{})

	got, err := a.Answer(context.Background(),
		"What happened with order PSV-745559?",
		"msg=upload failed order=PSV-745559",
		"at Service.handler (/app/services/crm.service.js:199:13)",
		"async handler(req) { ... }")
	require.NoError(t, err)
	assert.Equal(t, "Order PSV-745559 failed to upload.", got)

	require.Len(t, model.prompts, 1)
	prompt := model.prompts[0]
	assert.Contains(t, prompt, "PSV-745559")
	assert.Contains(t, prompt, "crm.service.js")
	assert.Contains(t, prompt, "async handler(req)")
}

func TestAnswererEmptyEvidenceBecomesNone(t *testing.T) {
	model := &fakeModel{responses: []string{"No evidence found."}}
	a := NewAnswerer(model, config.LLM{}, log.NoOpLogger{})

	_, err := a.Answer(context.Background(), "anything?", "", "", "")
	require.NoError(t, err)
	assert.Contains(t, model.prompts[0], "(none)")
}

func TestAnswererStream(t *testing.T) {
	model := &fakeModel{responses: []string{"chunked answer"}}
	a := NewAnswerer(model, config.LLM{}, log.NoOpLogger{})

	var sb strings.Builder
	got, err := a.Stream(context.Background(), "q", "logs", "", "", func(chunk string) {
		sb.WriteString(chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "chunked answer", got)
	assert.Equal(t, "chunked answer", sb.String())
}
