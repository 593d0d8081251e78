// Command ingest bulk-loads the review file into the vector index: one
// embedding per review, then a single upsert.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/ingest"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/engine/store"
	"github.com/rateprof/profrag/pkg/config"
)

type flags struct {
	config    string
	storePath string
	index     string
	namespace string
	dimension int
	create    bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", os.Getenv("PROFRAG_CONFIG"), "path to YAML config file")
	fs.StringVar(&f.storePath, "store", "", "review file (default from config)")
	fs.StringVar(&f.index, "index", "", "index name (default from config)")
	fs.StringVar(&f.namespace, "namespace", "", "namespace (default from config)")
	fs.IntVar(&f.dimension, "dimension", 0, "index dimension (default from config)")
	fs.BoolVar(&f.create, "create", false, "create the index if it does not exist")
	return f, fs.Parse(args)
}

// apply lets non-empty flags override the loaded config.
func (f flags) apply(cfg *config.Config) {
	if f.storePath != "" {
		cfg.Store.Path = f.storePath
	}
	if f.index != "" {
		cfg.Index.Name = f.index
	}
	if f.namespace != "" {
		cfg.Index.Namespace = f.namespace
	}
	if f.dimension > 0 {
		cfg.Index.Dimension = f.dimension
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		color.Red("dotenv: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(f.config)
	if err != nil {
		color.Red("config: %v", err)
		os.Exit(1)
	}
	f.apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, f.create, os.Stdout); err != nil {
		color.Red("ingest failed: %v", err)
		os.Exit(1)
	}
}

// indexAPI is the part of the vector index the loader drives.
type indexAPI interface {
	ingest.Index
	EnsureIndex(ctx context.Context, dims int) error
	Stats(ctx context.Context, namespace string) (semantic.Stats, error)
	Name() string
}

func run(ctx context.Context, cfg *config.Config, create bool, out io.Writer) error {
	embedder, err := embed.New(ctx, cfg.EmbedProvider())
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	index, err := semantic.New(cfg.IndexOptions())
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	defer index.Close()

	return load(ctx, cfg, create, embedder, index, out)
}

func load(ctx context.Context, cfg *config.Config, create bool, embedder embed.Embedder, index indexAPI, out io.Writer) error {
	logger := slog.Default()
	if create {
		if err := index.EnsureIndex(ctx, cfg.Index.Dimension); err != nil {
			return err
		}
		logger.Info("index ready", "index", index.Name(), "dimension", cfg.Index.Dimension)
	}

	res, err := ingest.BulkLoad(ctx, ingest.Deps{
		Store:        store.Open(cfg.Store.Path),
		Embedder:     embedder,
		Index:        index,
		Logger:       logger,
		EmbedOptions: cfg.EmbedOptions(),
		Namespace:    cfg.Index.Namespace,
		IDScheme:     cfg.IDScheme(),
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Fprintf(out, "Upserted count: %d\n", res.Upserted)
	if res.Skipped > 0 {
		color.New(color.FgYellow).Fprintf(out, "Skipped invalid reviews: %d\n", res.Skipped)
	}

	stats, err := index.Stats(ctx, cfg.Index.Namespace)
	if err != nil {
		return err
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "Index %s: dimension=%d total=%d namespace[%s]=%d\n",
		index.Name(), stats.Dimension, stats.TotalPoints, cfg.Index.Namespace, stats.NamespacePoints)
	return nil
}
