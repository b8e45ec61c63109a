package retriever

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// fakeModel replays one canned response.
type fakeModel struct {
	response string
	err      error
}

func (m *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.response}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

// fakeFinder records which collections were queried and replays canned
// records per collection.
type fakeFinder struct {
	mu      sync.Mutex
	queried []string
	filters map[string]bson.M
	records map[string][]bson.M
	err     error
}

func (f *fakeFinder) Find(_ context.Context, collection string, filter bson.M, _ int64) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, collection)
	if f.filters == nil {
		f.filters = map[string]bson.M{}
	}
	f.filters[collection] = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.records[collection], nil
}

func generalAnalyzer() *QueryAnalyzer {
	// A failing model forces the deterministic all-fields fallback.
	return NewQueryAnalyzer(&fakeModel{err: errors.New("down")}, 0, log.NoOpLogger{})
}

func testCollections() map[string]config.Collection {
	return map[string]config.Collection{
		"items": {
			ExactMatchFields: []string{"sku"},
			RegexMatchFields: []string{"name"},
			MetadataFields:   []string{"sku", "stock.quantity"},
			ContentField:     "name",
		},
		"crm-agreements": {
			ExactMatchFields: []string{"number"},
			RegexMatchFields: []string{"customer.name"},
			MetadataFields:   []string{"number"},
			ContentField:     "customer.name",
		},
	}
}

func TestMongoFansOutOverCollections(t *testing.T) {
	finder := &fakeFinder{records: map[string][]bson.M{
		"items":          {{"sku": "NM0086817", "name": "widget", "stock": bson.M{"quantity": int32(4)}}},
		"crm-agreements": {{"number": "PSV-745559", "customer": bson.M{"name": "ACME"}}},
	}}
	m := &Mongo{
		finder:      finder,
		collections: testCollections(),
		limit:       10,
		analyzer:    generalAnalyzer(),
		logger:      log.NoOpLogger{},
	}

	docs, err := m.Search(context.Background(), "PSV-745559")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"items", "crm-agreements"}, finder.queried)
	require.Len(t, docs, 2)

	// Collections are concatenated in name order.
	assert.Equal(t, "crm-agreements", docs[0].Metadata[MetaCollection])
	assert.Equal(t, SourceDocstore, docs[0].Metadata[MetaSource])
	assert.Equal(t, "ACME", docs[0].Content)
	assert.Equal(t, "PSV-745559", docs[0].Metadata["number"])

	assert.Equal(t, "items", docs[1].Metadata[MetaCollection])
	assert.Equal(t, "widget", docs[1].Content)
	assert.Equal(t, int32(4), docs[1].Metadata["stock.quantity"])
}

func TestMongoCollectionErrorIsFatal(t *testing.T) {
	finder := &fakeFinder{err: errors.New("not authorized")}
	m := &Mongo{
		finder:      finder,
		collections: testCollections(),
		limit:       10,
		analyzer:    generalAnalyzer(),
		logger:      log.NoOpLogger{},
	}

	_, err := m.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection")
}

func TestBuildMongoFilterSingleField(t *testing.T) {
	cc := config.Collection{ExactMatchFields: []string{"sku"}, RegexMatchFields: []string{"name"}}

	got := buildMongoFilter(cc, queryAnalysis{SearchTerm: "NM0086817", Fields: []string{"sku"}})
	assert.Equal(t, bson.M{"sku": "NM0086817"}, got)

	got = buildMongoFilter(cc, queryAnalysis{SearchTerm: "widget", Fields: []string{"name"}})
	assert.Equal(t, bson.M{"name": bson.M{"$regex": "widget", "$options": "i"}}, got)
}

func TestBuildMongoFilterMixedFields(t *testing.T) {
	cc := config.Collection{ExactMatchFields: []string{"sku", "ean"}, RegexMatchFields: []string{"name"}}

	got := buildMongoFilter(cc, queryAnalysis{SearchTerm: "X", Fields: []string{"sku", "ean", "name"}})
	assert.Equal(t, bson.M{"$or": []bson.M{
		{"$and": []bson.M{{"sku": "X"}, {"ean": "X"}}},
		{"name": bson.M{"$regex": "X", "$options": "i"}},
	}}, got)
}

func TestBuildMongoFilterOneKindOnly(t *testing.T) {
	cc := config.Collection{ExactMatchFields: []string{"sku", "ean"}}

	got := buildMongoFilter(cc, queryAnalysis{SearchTerm: "X", Fields: []string{"sku", "ean"}})
	assert.Equal(t, bson.M{"$or": []bson.M{{"sku": "X"}, {"ean": "X"}}}, got)
}

func TestLookupPath(t *testing.T) {
	record := bson.M{
		"number": "PSV-745559",
		"customer": bson.M{
			"name":    "ACME",
			"address": map[string]any{"city": "Riga"},
		},
	}

	assert.Equal(t, "PSV-745559", lookupPath(record, "number"))
	assert.Equal(t, "ACME", lookupPath(record, "customer.name"))
	assert.Equal(t, "Riga", lookupPath(record, "customer.address.city"))
	assert.Equal(t, "", lookupPath(record, "customer.phone"))
	assert.Equal(t, "", lookupPath(record, "number.digits"))
	assert.Equal(t, "", lookupPath(record, "missing.entirely"))
}

func TestQueryAnalyzerParsesModelOutput(t *testing.T) {
	model := &fakeModel{response: `{"intent": "isbn", "search_term": "978-3-16", "fields": ["sku", "bogus"]}`}
	a := NewQueryAnalyzer(model, 0, log.NoOpLogger{})

	analysis := a.Analyze(context.Background(), "find 978-3-16", []string{"sku", "name"})
	assert.Equal(t, "isbn", analysis.Intent)
	assert.Equal(t, "978-3-16", analysis.SearchTerm)
	// Unknown fields are discarded.
	assert.Equal(t, []string{"sku"}, analysis.Fields)
}

func TestQueryAnalyzerFallsBack(t *testing.T) {
	fields := []string{"sku", "name"}

	for name, model := range map[string]*fakeModel{
		"model error":   {err: errors.New("down")},
		"not json":      {response: "cannot classify"},
		"empty term":    {response: `{"intent": "general", "search_term": "", "fields": ["sku"]}`},
		"unknown field": {response: `{"intent": "general", "search_term": "x", "fields": ["bogus"]}`},
	} {
		a := NewQueryAnalyzer(model, 0, log.NoOpLogger{})
		analysis := a.Analyze(context.Background(), "question", fields)
		assert.Equal(t, fields, analysis.Fields, name)
		if name != "unknown field" {
			assert.Equal(t, "question", analysis.SearchTerm, name)
		}
	}
}
