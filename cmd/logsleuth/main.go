// Command logsleuth runs the log investigation assistant. By default
// it serves operators over the chat transport; with -ask it answers a
// single question on the console and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tmc/langchaingo/llms"

	"github.com/busops/logsleuth/chain"
	"github.com/busops/logsleuth/config"
	"github.com/busops/logsleuth/log"
	"github.com/busops/logsleuth/pipeline"
	"github.com/busops/logsleuth/retriever"
	"github.com/busops/logsleuth/selfquery"
	"github.com/busops/logsleuth/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	ask := flag.String("ask", "", "answer a single question on the console and exit")
	flag.Parse()

	if err := run(*configPath, *ask); err != nil {
		fmt.Fprintln(os.Stderr, "logsleuth:", err)
		os.Exit(1)
	}
}

func run(configPath, ask string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Diagnostics)
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if ask != "" {
		console := transport.NewConsole(os.Stdout)
		engine, err := pipeline.New(cfg.Pipeline, deps, console, logger)
		if err != nil {
			return err
		}
		_, err = engine.Run(ctx, 0, ask)
		return err
	}

	if cfg.Transport.Token == "" {
		return fmt.Errorf("chat transport token is not configured (set CHAT_TRANSPORT_TOKEN)")
	}
	tg, err := transport.NewTelegram(cfg.Transport.Token, logger)
	if err != nil {
		return err
	}
	engine, err := pipeline.New(cfg.Pipeline, deps, tg, logger)
	if err != nil {
		return err
	}

	logger.Info("logsleuth serving operators")
	tg.Listen(ctx, func(ctx context.Context, chatID int64, text string) {
		if _, err := engine.Run(ctx, chatID, text); err != nil {
			logger.Error("pipeline for chat %d: %v", chatID, err)
		}
	})
	return nil
}

func buildLogger(cfg config.Diagnostics) *log.GologLogger {
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = log.LevelDebug
	}
	return log.New(level)
}

func buildDeps(ctx context.Context, cfg config.Config, logger log.Logger) (pipeline.Deps, error) {
	models := map[string]config.LLM{
		"answerer":             cfg.LLM.Answerer,
		"log_summarizer":       cfg.LLM.LogSummarizer,
		"retrieval_grader":     cfg.LLM.RetrievalGrader,
		"question_rewriter":    cfg.LLM.QuestionRewriter,
		"hallucination_grader": cfg.LLM.HallucinationGrader,
		"answer_grader":        cfg.LLM.AnswerGrader,
		"mongodb_retriever":    cfg.LLM.MongoRetriever,
		"opensearch_retriever": cfg.LLM.OpenSearchRetriever,
	}
	clients := make(map[string]llms.Model, len(models))
	for role, llmCfg := range models {
		model, err := chain.New(llmCfg)
		if err != nil {
			return pipeline.Deps{}, fmt.Errorf("llm role %s: %w", role, err)
		}
		clients[role] = model
	}

	constructor := selfquery.NewConstructor(clients["opensearch_retriever"], cfg.LLM.OpenSearchRetriever.Timeout, logger)
	logs, err := retriever.NewOpenSearch(cfg.OpenSearch, constructor, logger)
	if err != nil {
		return pipeline.Deps{}, err
	}

	deps := pipeline.Deps{
		Logs:       logs,
		Relevance:  chain.NewRelevanceGrader(clients["retrieval_grader"], cfg.LLM.RetrievalGrader, logger),
		Answer:     chain.NewAnswerGrader(clients["answer_grader"], cfg.LLM.AnswerGrader, logger),
		Grounding:  chain.NewGroundingGrader(clients["hallucination_grader"], cfg.LLM.HallucinationGrader, logger),
		Rewriter:   chain.NewQuestionRewriter(clients["question_rewriter"], cfg.LLM.QuestionRewriter, logger),
		Answerer:   chain.NewAnswerer(clients["answerer"], cfg.LLM.Answerer, logger),
		Summarizer: chain.NewLogSummarizer(clients["log_summarizer"], cfg.LLM.LogSummarizer, logger),
	}

	if cfg.Mongo.Enabled {
		analyzer := retriever.NewQueryAnalyzer(clients["mongodb_retriever"], cfg.LLM.MongoRetriever.Timeout, logger)
		docstore, err := retriever.NewMongo(ctx, cfg.Mongo, analyzer, logger)
		if err != nil {
			return pipeline.Deps{}, err
		}
		deps.Docstore = docstore
	}

	if cfg.Codebase.Enabled {
		code, err := retriever.NewCodebase(cfg.Codebase, logger)
		if err != nil {
			return pipeline.Deps{}, err
		}
		deps.Code = code
	}

	return deps, nil
}
