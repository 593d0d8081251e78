// Package main implements the profrag API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/genai"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/ingest"
	"github.com/rateprof/profrag/engine/rag"
	"github.com/rateprof/profrag/engine/scraper"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/engine/store"
	"github.com/rateprof/profrag/pkg/config"
	"github.com/rateprof/profrag/pkg/metrics"
	"github.com/rateprof/profrag/pkg/mid"
	"github.com/rateprof/profrag/pkg/natsutil"
	"github.com/rateprof/profrag/pkg/ollama"
)

func main() {
	configPath := flag.String("config", os.Getenv("PROFRAG_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding client ---
	embedder, err := embed.New(ctx, cfg.EmbedProvider())
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	// --- Vector index ---
	index, err := semantic.New(cfg.IndexOptions())
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	defer index.Close()

	// --- Review store ---
	reviews := store.Open(cfg.Store.Path)
	if err := reviews.Init(); err != nil {
		return fmt.Errorf("review store: %w", err)
	}

	// --- Metrics ---
	var (
		rec            metrics.Recorder = metrics.Nop{}
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		provider, h, r, err := metrics.New()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer provider.Shutdown(context.Background())
		rec, metricsHandler = r, h
	}

	// --- Ingestion events ---
	var notifier ingest.Notifier
	if cfg.NATS.URL != "" {
		pub, err := natsutil.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
		notifier = pub
	}

	scheme := cfg.IDScheme()
	if scheme == domain.IDSchemeProfessor {
		logger.Warn("index.id_scheme is professor: a professor's second subject overwrites the first vector")
	}

	fetcher := scraper.NewFetcher(
		scraper.WithUserAgent(cfg.Scraper.UserAgent),
		scraper.WithTimeout(cfg.Scraper.Timeout),
	)
	pipeline := ingest.NewPipeline(ingest.Deps{
		Fetcher:      fetcher,
		Extractor:    scraper.NewExtractor(scraper.ProfessorPageSchema),
		Store:        reviews,
		Embedder:     embedder,
		Index:        index,
		Notifier:     notifier,
		Metrics:      rec,
		Logger:       logger,
		EmbedOptions: cfg.EmbedOptions(),
		Namespace:    cfg.Index.Namespace,
		IDScheme:     scheme,
	})

	// --- Chat ---
	var chat Chatter
	if gen, err := chatGenerator(ctx, cfg, embedder); err != nil {
		logger.Warn("chat disabled", "err", err)
	} else {
		opts := rag.DefaultOptions()
		opts.TopK = cfg.Chat.TopK
		opts.Namespace = cfg.Index.Namespace
		opts.Embed = cfg.EmbedOptions()
		chat = rag.New(embedder, index, gen, opts, logger)
	}

	// --- HTTP server ---
	srv := &server{
		scraper:   pipeline,
		embedder:  embedder,
		chat:      chat,
		embedOpts: cfg.EmbedOptions(),
		logger:    logger,
	}
	handler := srv.routes(metricsHandler,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.OTel("profrag-api"),
		mid.Metrics(rec),
		mid.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	)

	httpSrv := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Server.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "index", index.Name(), "namespace", cfg.Index.Namespace)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// chatGenerator builds the generator named by chat.provider. The Gemini
// generator reuses the embedder's Gen AI client when there is one.
func chatGenerator(ctx context.Context, cfg *config.Config, e embed.Embedder) (rag.Generator, error) {
	switch strings.ToLower(cfg.Chat.Provider) {
	case config.ChatNone:
		return nil, errors.New("chat.provider is none")
	case config.ChatOllama:
		c, err := ollama.NewChatClient(cfg.Chat.BaseURL, cfg.Chat.Model, nil)
		if err != nil {
			return nil, err
		}
		return rag.NewOllamaGenerator(c, cfg.Chat.Temperature), nil
	}

	var client *genai.Client
	if g, ok := e.(*embed.GenAI); ok {
		client = g.Client()
	} else {
		if cfg.Embed.Project == "" {
			return nil, errors.New("no Vertex AI project configured")
		}
		var err error
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Embed.Project,
			Location: cfg.Embed.Location,
		})
		if err != nil {
			return nil, err
		}
	}
	return rag.NewGeminiGenerator(client, rag.GeminiOptions{
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		TopP:        cfg.Chat.TopP,
	}), nil
}
