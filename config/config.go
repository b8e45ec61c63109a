// Package config holds the typed configuration records for the
// assistant. The whole configuration is loaded once at startup and
// injected through constructors; no component reads configuration from
// process-global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM configures one LLM-backed role.
type LLM struct {
	// Provider selects the backend client: "ollama" (default) or
	// "openai" for any OpenAI-compatible endpoint.
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	NumCtx      int           `yaml:"num_ctx"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LLMRoles holds one LLM record per role in the pipeline.
type LLMRoles struct {
	Answerer            LLM `yaml:"answerer"`
	LogSummarizer       LLM `yaml:"log_summarizer"`
	Retriever           LLM `yaml:"retriever"`
	RetrievalGrader     LLM `yaml:"retrieval_grader"`
	QuestionRewriter    LLM `yaml:"question_rewriter"`
	HallucinationGrader LLM `yaml:"hallucination_grader"`
	AnswerGrader        LLM `yaml:"answer_grader"`
	MongoRetriever      LLM `yaml:"mongodb_retriever"`
	OpenSearchRetriever LLM `yaml:"opensearch_retriever"`
}

// Transport configures the chat transport.
type Transport struct {
	Token string `yaml:"chat_transport_token"`
}

// OpenSearch configures the full-text log index.
type OpenSearch struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Index       string        `yaml:"index"`
	UseSSL      bool          `yaml:"use_ssl"`
	VerifyCerts bool          `yaml:"verify_certs"`
	QuerySize   int           `yaml:"query_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Collection configures one document-store collection.
type Collection struct {
	ExactMatchFields []string `yaml:"exact_match_fields"`
	RegexMatchFields []string `yaml:"regex_match_fields"`
	MetadataFields   []string `yaml:"metadata_fields"`
	ContentField     string   `yaml:"content_field"`
}

// Mongo configures the document store.
type Mongo struct {
	Enabled     bool                  `yaml:"enabled"`
	Hosts       []string              `yaml:"hosts"`
	Username    string                `yaml:"username"`
	Password    string                `yaml:"password"`
	Database    string                `yaml:"database"`
	ReplicaSet  string                `yaml:"replica_set"`
	AuthSource  string                `yaml:"auth_source"`
	QueryLimit  int64                 `yaml:"query_limit"`
	UseSSL      bool                  `yaml:"use_ssl"`
	VerifyCerts bool                  `yaml:"verify_certs"`
	CACertPath  string                `yaml:"ca_cert_path"`
	Timeout     time.Duration         `yaml:"timeout"`
	Collections map[string]Collection `yaml:"collections"`
}

// URI builds the mongodb connection string from the record.
func (m Mongo) URI() string {
	uri := fmt.Sprintf("mongodb://%s:%s@%s/%s",
		m.Username, m.Password, strings.Join(m.Hosts, ","), m.Database)
	params := []string{}
	if m.ReplicaSet != "" {
		params = append(params, "replicaSet="+m.ReplicaSet)
	}
	if m.AuthSource != "" {
		params = append(params, "authSource="+m.AuthSource)
	}
	if len(params) > 0 {
		uri += "?" + strings.Join(params, "&")
	}
	return uri
}

// Codebase configures the code store.
type Codebase struct {
	Enabled        bool     `yaml:"enabled"`
	ChromaURL      string   `yaml:"chroma_url"`
	CollectionName string   `yaml:"collection_name"`
	Path           string   `yaml:"path"`
	FilePattern    string   `yaml:"file_pattern"`
	FileExtensions []string `yaml:"file_extensions"`
	Language       string   `yaml:"language"`
	EmbeddingModel string   `yaml:"embedding_model"`
	EmbeddingURL   string   `yaml:"embedding_url"`
	K              int      `yaml:"k"`
}

// Pipeline configures the engine budgets and fan-out width.
type Pipeline struct {
	RewriteAttempts    int `yaml:"rewrite_attempts"`
	RegenerateAttempts int `yaml:"regenerate_attempts"`
	GradeConcurrency   int `yaml:"grade_concurrency"`
}

// Diagnostics configures logging.
type Diagnostics struct {
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
}

// Config is the root configuration record.
type Config struct {
	Transport   Transport   `yaml:"transport"`
	LLM         LLMRoles    `yaml:"llm"`
	OpenSearch  OpenSearch  `yaml:"opensearch"`
	Mongo       Mongo       `yaml:"mongodb"`
	Codebase    Codebase    `yaml:"codebase"`
	Pipeline    Pipeline    `yaml:"pipeline"`
	Diagnostics Diagnostics `yaml:"diagnostics"`
}

// defaultLLM is the baseline for every role; the YAML file overrides
// per role.
func defaultLLM() LLM {
	return LLM{
		Provider:    "ollama",
		BaseURL:     "http://127.0.0.1:11434",
		Model:       "qwen2.5-coder",
		Temperature: 0,
		NumCtx:      8192,
		Timeout:     120 * time.Second,
	}
}

// Default returns a configuration populated with defaults for every
// subsystem.
func Default() Config {
	roles := LLMRoles{
		Answerer:            defaultLLM(),
		LogSummarizer:       defaultLLM(),
		Retriever:           defaultLLM(),
		RetrievalGrader:     defaultLLM(),
		QuestionRewriter:    defaultLLM(),
		HallucinationGrader: defaultLLM(),
		AnswerGrader:        defaultLLM(),
		MongoRetriever:      defaultLLM(),
		OpenSearchRetriever: defaultLLM(),
	}
	// The answerer is the only role where sampling helps.
	roles.Answerer.Temperature = 0.7

	return Config{
		LLM: roles,
		OpenSearch: OpenSearch{
			Host:      "localhost",
			Port:      9200,
			Index:     "logs-*",
			UseSSL:    true,
			QuerySize: 10,
			Timeout:   30 * time.Second,
		},
		Mongo: Mongo{
			AuthSource: "admin",
			QueryLimit: 10,
			Timeout:    30 * time.Second,
		},
		Codebase: Codebase{
			ChromaURL:      "http://localhost:8000",
			CollectionName: "codebase",
			FilePattern:    "**/*",
			FileExtensions: []string{".js"},
			Language:       "js",
			EmbeddingModel: "unclemusclez/jina-embeddings-v2-base-code",
			EmbeddingURL:   "http://127.0.0.1:11434",
			K:              1,
		},
		Pipeline: Pipeline{
			RewriteAttempts:    3,
			RegenerateAttempts: 2,
			GradeConcurrency:   8,
		},
		Diagnostics: Diagnostics{
			LogLevel: "info",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and then
// applies environment overrides. An empty path loads defaults and
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and operational knobs that are commonly
// provided through the environment rather than the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CHAT_TRANSPORT_TOKEN"); v != "" {
		c.Transport.Token = v
	}
	if v := os.Getenv("OPENSEARCH_USERNAME"); v != "" {
		c.OpenSearch.Username = v
	}
	if v := os.Getenv("OPENSEARCH_PASSWORD"); v != "" {
		c.OpenSearch.Password = v
	}
	if v := os.Getenv("MONGODB_USERNAME"); v != "" {
		c.Mongo.Username = v
	}
	if v := os.Getenv("MONGODB_PASSWORD"); v != "" {
		c.Mongo.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Diagnostics.LogLevel = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Diagnostics.Debug = b
		}
	}
}

func (c *Config) validate() error {
	if c.Pipeline.RewriteAttempts < 0 {
		return fmt.Errorf("pipeline.rewrite_attempts must be nonnegative, got %d", c.Pipeline.RewriteAttempts)
	}
	if c.Pipeline.RegenerateAttempts < 0 {
		return fmt.Errorf("pipeline.regenerate_attempts must be nonnegative, got %d", c.Pipeline.RegenerateAttempts)
	}
	if c.Pipeline.GradeConcurrency < 1 {
		return fmt.Errorf("pipeline.grade_concurrency must be positive, got %d", c.Pipeline.GradeConcurrency)
	}
	if c.OpenSearch.QuerySize < 1 {
		return fmt.Errorf("opensearch.query_size must be positive, got %d", c.OpenSearch.QuerySize)
	}
	if c.Mongo.Enabled && len(c.Mongo.Collections) == 0 {
		return fmt.Errorf("mongodb enabled but no collections configured")
	}
	return nil
}
