// Package retriever provides the evidence retrievers of the
// assistant: the full-text log index, the document store and the code
// store. Every retriever returns the same unified Document shape so
// downstream grading and generation do not care where evidence came
// from.
package retriever

import "context"

// Metadata keys shared across retrievers.
const (
	MetaSource     = "source"
	MetaTime       = "time"
	MetaLevel      = "level"
	MetaNamespace  = "ns"
	MetaService    = "svc"
	MetaScore      = "score"
	MetaCollection = "collection"
	MetaFilename   = "filename"
)

// Values of the "source" metadata key.
const (
	SourceLogs     = "logs"
	SourceDocstore = "docstore"
	SourceCode     = "code"
)

// Document is the unified result shape produced by every retriever.
// Treat it as immutable once constructed.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Retriever is the capability shared by all evidence stores.
type Retriever interface {
	// Search runs the question against the store and returns unified
	// documents in the store's native order.
	Search(ctx context.Context, question string) ([]Document, error)
}

// SearchResult pairs the outcome of an asynchronous search.
type SearchResult struct {
	Documents []Document
	Err       error
}

// SearchAsync runs r.Search in its own goroutine and delivers the
// outcome on the returned channel. The channel is buffered; the result
// is delivered even if the caller stopped waiting.
func SearchAsync(ctx context.Context, r Retriever, question string) <-chan SearchResult {
	ch := make(chan SearchResult, 1)
	go func() {
		docs, err := r.Search(ctx, question)
		ch <- SearchResult{Documents: docs, Err: err}
	}()
	return ch
}
