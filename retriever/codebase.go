package retriever

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/chroma"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// vectorSearcher is the slice of the vector store the retriever needs.
type vectorSearcher interface {
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error)
}

// Codebase retrieves code snippets from the vector index over the
// service codebase. Stack traces resolve to an exact filename filter;
// plain questions go through semantic similarity, narrowed to a file
// when the question names one.
type Codebase struct {
	store      vectorSearcher
	k          int
	extensions []string
	fileToken  *regexp.Regexp
	stackToken *regexp.Regexp
	logger     log.Logger
}

var _ Retriever = (*Codebase)(nil)

// NewCodebase connects to the code index and builds the retriever.
func NewCodebase(cfg config.Codebase, logger log.Logger) (*Codebase, error) {
	embedLLM, err := ollama.New(
		ollama.WithServerURL(cfg.EmbeddingURL),
		ollama.WithModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	store, err := chroma.New(
		chroma.WithChromaURL(cfg.ChromaURL),
		chroma.WithEmbedder(embedder),
		chroma.WithNameSpace(cfg.CollectionName),
	)
	if err != nil {
		return nil, fmt.Errorf("chroma store: %w", err)
	}

	return newCodebase(store, cfg, logger)
}

func newCodebase(store vectorSearcher, cfg config.Codebase, logger log.Logger) (*Codebase, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(cfg.FileExtensions) == 0 {
		return nil, fmt.Errorf("codebase retriever needs at least one file extension")
	}

	alts := make([]string, 0, len(cfg.FileExtensions))
	for _, ext := range cfg.FileExtensions {
		alts = append(alts, regexp.QuoteMeta(strings.TrimPrefix(ext, ".")))
	}
	group := "(?:" + strings.Join(alts, "|") + ")"

	// A stack frame names a file as /path/segment.ext; the token of
	// interest is the last path segment.
	stackToken, err := regexp.Compile(`/([^/\s]+\.` + group + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compile stack token pattern: %w", err)
	}
	// A question may name a file bare, without a path.
	fileToken, err := regexp.Compile(`\b([\w.-]+\.` + group + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compile file token pattern: %w", err)
	}

	return &Codebase{
		store:      store,
		k:          cfg.K,
		extensions: cfg.FileExtensions,
		fileToken:  fileToken,
		stackToken: stackToken,
		logger:     logger,
	}, nil
}

// IsStackTrace reports whether the query looks like a stack trace
// rather than a free-text question.
func IsStackTrace(query string) bool {
	return strings.Contains(query, "stack:") || strings.Contains(query, " at ")
}

// ExtractStackFiles returns the sorted, deduplicated set of filenames
// referenced by stack frames in the query.
func (c *Codebase) ExtractStackFiles(query string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, match := range c.stackToken.FindAllStringSubmatch(query, -1) {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files
}

// Search resolves the query against the code index.
func (c *Codebase) Search(ctx context.Context, query string) ([]Document, error) {
	if IsStackTrace(query) {
		if files := c.ExtractStackFiles(query); len(files) > 0 {
			return c.searchFiles(ctx, files)
		}
	}
	return c.searchSemantic(ctx, query)
}

// searchFiles fetches snippets for an explicit filename set.
func (c *Codebase) searchFiles(ctx context.Context, files []string) ([]Document, error) {
	c.logger.Debug("resolving code for files: %v", files)

	k := c.k
	if len(files) > k {
		k = len(files)
	}
	filter := map[string]any{MetaFilename: map[string]any{"$in": files}}
	docs, err := c.store.SimilaritySearch(ctx, strings.Join(files, " "), k,
		vectorstores.WithFilters(filter))
	if err != nil {
		return nil, fmt.Errorf("code index search: %w", err)
	}
	return c.project(docs), nil
}

// searchSemantic runs a similarity query, narrowed to one file when
// the question names it.
func (c *Codebase) searchSemantic(ctx context.Context, query string) ([]Document, error) {
	opts := []vectorstores.Option{}
	if name := c.fileToken.FindString(query); name != "" {
		opts = append(opts, vectorstores.WithFilters(map[string]any{MetaFilename: name}))
	}

	docs, err := c.store.SimilaritySearch(ctx, query, c.k, opts...)
	if err != nil {
		return nil, fmt.Errorf("code index search: %w", err)
	}
	return c.project(docs), nil
}

func (c *Codebase) project(docs []schema.Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		metadata := make(map[string]any, len(doc.Metadata)+3)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		// The store keys the file path as "source"; the unified shape
		// reserves that key for the retriever kind.
		if src, ok := metadata[MetaSource].(string); ok {
			metadata["path"] = src
			if _, ok := metadata[MetaFilename]; !ok {
				metadata[MetaFilename] = path.Base(src)
			}
		}
		metadata[MetaSource] = SourceCode
		metadata[MetaScore] = doc.Score
		out = append(out, Document{Content: doc.PageContent, Metadata: metadata})
	}
	return out
}
