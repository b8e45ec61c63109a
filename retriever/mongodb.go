package retriever

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
)

// analyzerPrompt asks the model to classify a question against one
// collection's fields. The model must preserve the exact characters of
// the search term; identifiers often mix Latin and Cyrillic and must
// not be transliterated.
const analyzerPrompt = `You are a query analyzer for a document database. Analyze the user's question and determine:
1. The search intent (what the user is looking for)
2. The relevant search term
3. The most appropriate fields to search in

IMPORTANT: preserve the EXACT characters of the input in search_term. Do not convert or transliterate any characters.

Available fields:
%s

Respond with a JSON object in exactly this format, nothing else:
{"intent": "isbn|author|topic|general", "search_term": "the term to search for", "fields": ["relevant", "fields"]}

User question: %s`

// queryAnalysis is the model's classification of one question for one
// collection.
type queryAnalysis struct {
	Intent     string   `json:"intent"`
	SearchTerm string   `json:"search_term"`
	Fields     []string `json:"fields"`
}

// QueryAnalyzer classifies questions into (intent, search term,
// fields) for a collection using an LLM, with a deterministic
// all-fields fallback when the model output cannot be parsed.
type QueryAnalyzer struct {
	llm     llms.Model
	timeout time.Duration
	logger  log.Logger
}

// NewQueryAnalyzer creates an analyzer over the given model.
func NewQueryAnalyzer(model llms.Model, timeout time.Duration, logger log.Logger) *QueryAnalyzer {
	if logger == nil {
		logger = log.Default()
	}
	return &QueryAnalyzer{llm: model, timeout: timeout, logger: logger}
}

// Analyze classifies the question against the given field set. Any
// failure degrades to a general search across all fields.
func (a *QueryAnalyzer) Analyze(ctx context.Context, question string, fields []string) queryAnalysis {
	fallback := queryAnalysis{Intent: "general", SearchTerm: question, Fields: fields}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	prompt := fmt.Sprintf(analyzerPrompt, sb.String(), question)

	resp, err := llms.GenerateFromSinglePrompt(ctx, a.llm, prompt,
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		a.logger.Warn("query analysis failed, using general search: %v", err)
		return fallback
	}

	raw := resp
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var analysis queryAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil || analysis.SearchTerm == "" {
		a.logger.Warn("query analysis output unparseable, using general search")
		return fallback
	}

	// Keep only fields the collection actually has.
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f] = true
	}
	kept := analysis.Fields[:0]
	for _, f := range analysis.Fields {
		if known[f] {
			kept = append(kept, f)
		}
	}
	analysis.Fields = kept
	if len(analysis.Fields) == 0 {
		analysis.Fields = fields
	}
	return analysis
}

// collectionFinder abstracts the per-collection find so the fan-out
// and projection logic can be tested without a live server.
type collectionFinder interface {
	Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error)
}

type mongoFinder struct {
	db *mongo.Database
}

func (f *mongoFinder) Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error) {
	cursor, err := f.db.Collection(collection).Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Mongo retrieves records from the document store, querying every
// configured collection in parallel and unifying the results.
type Mongo struct {
	finder      collectionFinder
	collections map[string]config.Collection
	limit       int64
	timeout     time.Duration
	analyzer    *QueryAnalyzer
	logger      log.Logger
}

var _ Retriever = (*Mongo)(nil)

// NewMongo connects to the document store and builds the retriever.
// The client is long-lived and safe for concurrent use.
func NewMongo(ctx context.Context, cfg config.Mongo, analyzer *QueryAnalyzer, logger log.Logger) (*Mongo, error) {
	if logger == nil {
		logger = log.Default()
	}

	opts := options.Client().ApplyURI(cfg.URI())
	if cfg.UseSSL {
		tlsCfg := &tls.Config{InsecureSkipVerify: !cfg.VerifyCerts}
		if cfg.CACertPath != "" {
			pem, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("read CA cert %s: %w", cfg.CACertPath, err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates parsed from %s", cfg.CACertPath)
			}
			tlsCfg.RootCAs = pool
		}
		opts.SetTLSConfig(tlsCfg)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	return &Mongo{
		finder:      &mongoFinder{db: client.Database(cfg.Database)},
		collections: cfg.Collections,
		limit:       cfg.QueryLimit,
		timeout:     cfg.Timeout,
		analyzer:    analyzer,
		logger:      logger,
	}, nil
}

// Search runs the question against every configured collection in
// parallel and concatenates the unified documents. Within a collection
// the store's native order is preserved.
func (m *Mongo) Search(ctx context.Context, question string) ([]Document, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	perCollection := make([][]Document, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			docs, err := m.searchCollection(gctx, name, question)
			if err != nil {
				return fmt.Errorf("collection %s: %w", name, err)
			}
			perCollection[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Document
	for _, docs := range perCollection {
		all = append(all, docs...)
	}
	m.logger.Debug("document store returned %d records across %d collections", len(all), len(names))
	return all, nil
}

func (m *Mongo) searchCollection(ctx context.Context, name, question string) ([]Document, error) {
	cc := m.collections[name]
	analysis := m.analyzer.Analyze(ctx, question, allFields(cc))
	filter := buildMongoFilter(cc, analysis)
	m.logger.Debug("collection %s filter: %v", name, filter)

	records, err := m.finder.Find(ctx, name, filter, m.limit)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(records))
	for _, record := range records {
		docs = append(docs, projectRecord(cc, name, record))
	}
	return docs, nil
}

// allFields returns the searchable fields of a collection.
func allFields(cc config.Collection) []string {
	fields := make([]string, 0, len(cc.ExactMatchFields)+len(cc.RegexMatchFields))
	fields = append(fields, cc.ExactMatchFields...)
	fields = append(fields, cc.RegexMatchFields...)
	return fields
}

// buildMongoFilter builds a filter document from the analysis.
// Identifier-like fields are matched exactly, text fields as
// case-insensitive substrings; when both kinds are present the exact
// matches are combined under $and and or'ed with the substring
// matches.
func buildMongoFilter(cc config.Collection, analysis queryAnalysis) bson.M {
	exact := make(map[string]bool, len(cc.ExactMatchFields))
	for _, f := range cc.ExactMatchFields {
		exact[f] = true
	}

	clause := func(field string) bson.M {
		if exact[field] {
			return bson.M{field: analysis.SearchTerm}
		}
		return bson.M{field: bson.M{"$regex": analysis.SearchTerm, "$options": "i"}}
	}

	if len(analysis.Fields) == 1 {
		return clause(analysis.Fields[0])
	}

	var exactMatches, regexMatches []bson.M
	for _, f := range analysis.Fields {
		if exact[f] {
			exactMatches = append(exactMatches, clause(f))
		} else {
			regexMatches = append(regexMatches, clause(f))
		}
	}

	switch {
	case len(exactMatches) > 0 && len(regexMatches) > 0:
		or := []bson.M{{"$and": exactMatches}}
		or = append(or, regexMatches...)
		return bson.M{"$or": or}
	case len(exactMatches) > 0:
		return bson.M{"$or": exactMatches}
	default:
		return bson.M{"$or": regexMatches}
	}
}

// projectRecord maps one store record into the unified document shape.
// Dotted metadata paths traverse nested documents; missing segments
// project an empty string.
func projectRecord(cc config.Collection, collection string, record bson.M) Document {
	metadata := make(map[string]any, len(cc.MetadataFields)+2)
	for _, field := range cc.MetadataFields {
		metadata[field] = lookupPath(record, field)
	}
	metadata[MetaCollection] = collection
	metadata[MetaSource] = SourceDocstore

	content, _ := lookupPath(record, cc.ContentField).(string)
	return Document{Content: content, Metadata: metadata}
}

// lookupPath resolves a dotted path against nested documents. Any
// missing or non-document segment yields "".
func lookupPath(record bson.M, path string) any {
	var current any = record
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case bson.M:
			var ok bool
			current, ok = v[part]
			if !ok {
				return ""
			}
		case map[string]any:
			var ok bool
			current, ok = v[part]
			if !ok {
				return ""
			}
		default:
			return ""
		}
	}
	if current == nil {
		return ""
	}
	return current
}
