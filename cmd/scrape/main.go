// Command scrape runs professor pages through the ingestion pipeline from
// the command line, once or on an interval.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/time/rate"

	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/ingest"
	"github.com/rateprof/profrag/engine/scraper"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/engine/store"
	"github.com/rateprof/profrag/pkg/config"
	"github.com/rateprof/profrag/pkg/natsutil"
)

// Scraper runs one page through the pipeline.
type Scraper interface {
	Scrape(ctx context.Context, url string) ingest.Outcome
}

// Summary counts outcomes of one pass.
type Summary struct {
	Ingested   int
	Duplicates int
	Failed     int
}

func main() {
	configPath := flag.String("config", os.Getenv("PROFRAG_CONFIG"), "path to YAML config file")
	urlFile := flag.String("file", "", "file with one URL per line (# starts a comment)")
	interval := flag.Duration("interval", 0, "re-scrape interval (0 = one-shot)")
	perSecond := flag.Float64("rate", 1, "pages fetched per second")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	urls := flag.Args()
	if *urlFile != "" {
		fh, err := os.Open(*urlFile)
		if err != nil {
			color.Red("open %s: %v", *urlFile, err)
			os.Exit(1)
		}
		more, err := readURLs(fh)
		fh.Close()
		if err != nil {
			color.Red("read %s: %v", *urlFile, err)
			os.Exit(1)
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		color.Red("no URLs given")
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		color.Red("dotenv: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, urls, *interval, *perSecond); err != nil {
		color.Red("scrape failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, urls []string, interval time.Duration, perSecond float64) error {
	embedder, err := embed.New(ctx, cfg.EmbedProvider())
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	index, err := semantic.New(cfg.IndexOptions())
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	defer index.Close()

	reviews := store.Open(cfg.Store.Path)
	if err := reviews.Init(); err != nil {
		return fmt.Errorf("review store: %w", err)
	}

	var notifier ingest.Notifier
	if cfg.NATS.URL != "" {
		pub, err := natsutil.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
		notifier = pub
	}

	pipeline := ingest.NewPipeline(ingest.Deps{
		Fetcher: scraper.NewFetcher(
			scraper.WithUserAgent(cfg.Scraper.UserAgent),
			scraper.WithTimeout(cfg.Scraper.Timeout),
		),
		Extractor:    scraper.NewExtractor(scraper.ProfessorPageSchema),
		Store:        reviews,
		Embedder:     embedder,
		Index:        index,
		Notifier:     notifier,
		Logger:       logger,
		EmbedOptions: cfg.EmbedOptions(),
		Namespace:    cfg.Index.Namespace,
		IDScheme:     cfg.IDScheme(),
	})

	lim := rate.NewLimiter(rate.Limit(perSecond), 1)
	if perSecond <= 0 {
		lim = rate.NewLimiter(rate.Inf, 1)
	}

	for {
		sum := scrapeAll(ctx, pipeline, urls, lim, os.Stdout)
		logger.Info("scrape pass done", "ingested", sum.Ingested, "duplicates", sum.Duplicates, "failed", sum.Failed)
		if interval <= 0 {
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d pages failed", sum.Failed, len(urls))
			}
			return nil
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-time.After(interval):
		}
	}
}

// scrapeAll scrapes urls in order, waiting on lim before each fetch, and
// prints one line per outcome. URLs left unscraped when ctx ends count as
// failed.
func scrapeAll(ctx context.Context, s Scraper, urls []string, lim *rate.Limiter, out io.Writer) Summary {
	var (
		sum    Summary
		green  = color.New(color.FgGreen)
		yellow = color.New(color.FgYellow)
		red    = color.New(color.FgRed)
	)
	for i, u := range urls {
		if err := lim.Wait(ctx); err != nil {
			sum.Failed += len(urls) - i
			red.Fprintf(out, "skipped    %d remaining pages: %v\n", len(urls)-i, err)
			break
		}
		o := s.Scrape(ctx, u)
		switch o.State {
		case ingest.StateUpserted:
			sum.Ingested++
			green.Fprintf(out, "ingested   %s  %s (%s, %.1f)\n", u, o.Review.Professor, o.Review.Subject, o.Review.Stars)
		case ingest.StateDuplicate:
			sum.Duplicates++
			yellow.Fprintf(out, "duplicate  %s  %s (%s)\n", u, o.Review.Professor, o.Review.Subject)
		default:
			sum.Failed++
			red.Fprintf(out, "failed     %s  at %s: %v\n", u, o.Reached, o.Err)
		}
	}
	return sum
}

// readURLs returns the non-blank, non-comment lines of r.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
