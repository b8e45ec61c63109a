package retriever

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
	"github.com/busops/logsleuth/selfquery"
)

// OpenSearch retrieves log records from the full-text index. A
// question is first structured by the query constructor, then lowered
// to the index DSL and executed against the configured index pattern.
type OpenSearch struct {
	client      *opensearch.Client
	index       string
	size        int
	timeout     time.Duration
	constructor *selfquery.Constructor
	logger      log.Logger
}

var _ Retriever = (*OpenSearch)(nil)

// NewOpenSearch builds the index client and the retriever around it.
// The client is long-lived and safe for concurrent use.
func NewOpenSearch(cfg config.OpenSearch, constructor *selfquery.Constructor, logger log.Logger) (*OpenSearch, error) {
	if logger == nil {
		logger = log.Default()
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyCerts},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}

	return &OpenSearch{
		client:      client,
		index:       cfg.Index,
		size:        cfg.QuerySize,
		timeout:     cfg.Timeout,
		constructor: constructor,
		logger:      logger,
	}, nil
}

// Search structures the question and runs it against the index.
func (o *OpenSearch) Search(ctx context.Context, question string) ([]Document, error) {
	query := o.constructor.Construct(ctx, question)
	o.logger.Debug("structured query for %q: text=%q filter=%+v", question, query.Text, query.Filter)
	return o.SearchStructured(ctx, query, o.size)
}

// SearchStructured executes a structured query with an explicit result
// size. Failures are fatal for the calling stage.
func (o *OpenSearch) SearchStructured(ctx context.Context, query selfquery.StructuredQuery, size int) ([]Document, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	body, err := json.Marshal(map[string]any{
		"query": selfquery.Translate(query),
		"size":  size,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{o.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, o.client)
	if err != nil {
		return nil, fmt.Errorf("log index search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("log index search: %s: %s", res.Status(), detail)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64        `json:"_score"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, Document{
			Content: stringField(hit.Source, "msg"),
			Metadata: map[string]any{
				MetaSource:    SourceLogs,
				MetaLevel:     hit.Source[MetaLevel],
				MetaNamespace: hit.Source[MetaNamespace],
				MetaService:   hit.Source[MetaService],
				MetaTime:      hit.Source[MetaTime],
				MetaScore:     hit.Score,
			},
		})
	}
	o.logger.Debug("log index returned %d hits", len(docs))
	return docs, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
