package selfquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/busops/logsleuth/log"
)

// constructorPrompt instructs the model to emit a structured query for
// the log index. The example set pins the time-zone and relative-time
// conventions and is part of the contract with the index: do not edit
// the examples without re-verifying them against live data.
const constructorPrompt = `Your goal is to structure the user's question into the JSON object below.

The JSON object has two string fields:
- "query": a text phrase to match against the log message body, or "NO_FILTER" when the question carries no free-text part.
- "filter": a logical condition over log attributes, or "NO_FILTER" when no condition applies.

A filter condition is built from comparisons comp('attribute', 'value') with comp one of eq, lt, lte, gt, gte, combined with and(...), or(...), not(...).

Log attributes available for filtering:
- time: datetime in ISO 8601 format for exact times, or relative ('now', 'now/d' start of today, 'now/w' start of this week, 'now/M' start of this month, 'now-1h', 'now-24h'). When the question names an exact clock time, subtract 3 hours to get GMT. Times of day are expressed as offsets from start of day, e.g. 16:35:11 becomes 'now/d+13h+35m+11s'.
- level: severity of the entry (info, warn, error, debug, trace, panic, fatal).
- ns: namespace, prod or test. Use prod if not specified.
- svc: service name (mindbox, esb, ...).

Use only these attributes. Answer with the JSON object only, nothing else.

Examples:

` + constructorExamples + `

User question: %s
Structured query:`

// constructorExamples is the few-shot seed carried over from the
// production prompt.
const constructorExamples = `User question: What are Mindbox upload server errors in topic id-authorize-customer-topic?
Structured query: {"query": "mindbox upload server error id-authorize-customer-topic", "filter": "and(eq('level', 'error'))"}

User question: What are errors in prod last hour?
Structured query: {"query": "NO_FILTER", "filter": "and(eq('level', 'error'), eq('ns', 'prod'), gte('time', 'now-1h'))"}

User question: What is wrong with order PSV-745559?
Structured query: {"query": "PSV-745559", "filter": "and(or(eq('level', 'error'), eq('level', 'warn')), eq('ns', 'prod'))"}

User question: What happened with item NM0086817 on test?
Structured query: {"query": "NM0086817", "filter": "and(eq('ns', 'test'))"}

User question: What are errors in prod from 2025-03-20 to 2025-03-21?
Structured query: {"query": "NO_FILTER", "filter": "and(eq('level', 'error'), eq('ns', 'prod'), gte('time', '2025-03-20'), lte('time', '2025-03-21'))"}

User question: What are Mindbox upload errors in test from 2025-03-20 10:00:00 to 2025-03-21 10:00:00?
Structured query: {"query": "mindbox upload error", "filter": "and(eq('level', 'error'), eq('ns', 'test'), eq('svc', 'mindbox'), gte('time', '2025-03-20T07:00:00Z'), lte('time', '2025-03-21T07:00:00Z'))"}

User question: What are logs from 16:00:00 to now?
Structured query: {"query": "NO_FILTER", "filter": "and(gte('time', 'now/d+13h'))"}

User question: What are logs on prod from 16:35:11 to 16:36:56?
Structured query: {"query": "NO_FILTER", "filter": "and(eq('ns', 'prod'), gte('time', 'now/d+13h+35m+11s'), lte('time', 'now/d+13h+36m+56s'))"}

User question: What are Mindbox upload errors in test this week?
Structured query: {"query": "mindbox upload error", "filter": "and(eq('level', 'error'), eq('ns', 'test'), eq('svc', 'mindbox'), gte('time', 'now/w'))"}`

// Constructor turns a natural-language question into a
// StructuredQuery using an LLM configured for reproducible output
// (temperature 0).
type Constructor struct {
	llm     llms.Model
	timeout time.Duration
	logger  log.Logger
}

// NewConstructor creates a query constructor over the given model.
func NewConstructor(model llms.Model, timeout time.Duration, logger log.Logger) *Constructor {
	if logger == nil {
		logger = log.Default()
	}
	return &Constructor{llm: model, timeout: timeout, logger: logger}
}

// Construct builds a StructuredQuery for the question. Malformed model
// output falls back to a match-all filter with the raw question as the
// text phrase, so retrieval degrades instead of failing.
func (c *Constructor) Construct(ctx context.Context, question string) StructuredQuery {
	q, err := c.construct(ctx, question)
	if err != nil {
		c.logger.Warn("query construction failed, falling back to match-all: %v", err)
		return StructuredQuery{Text: question}
	}
	return q
}

func (c *Constructor) construct(ctx context.Context, question string) (StructuredQuery, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(constructorPrompt, question)
	resp, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return StructuredQuery{}, fmt.Errorf("query constructor llm: %w", err)
	}

	return parseConstructorOutput(resp)
}

// parseConstructorOutput extracts the {"query", "filter"} object from
// the model response and parses the filter notation.
func parseConstructorOutput(resp string) (StructuredQuery, error) {
	raw := extractJSONObject(resp)
	if raw == "" {
		return StructuredQuery{}, fmt.Errorf("no JSON object in model output: %q", truncate(resp, 200))
	}

	var out struct {
		Query  string `json:"query"`
		Filter string `json:"filter"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return StructuredQuery{}, fmt.Errorf("unmarshal model output: %w", err)
	}

	filter, err := ParseFilter(out.Filter)
	if err != nil {
		return StructuredQuery{}, fmt.Errorf("parse filter %q: %w", out.Filter, err)
	}

	text := strings.TrimSpace(out.Query)
	if text == NoFilter {
		text = ""
	}
	return StructuredQuery{Text: text, Filter: filter}, nil
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
