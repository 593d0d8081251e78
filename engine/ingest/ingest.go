// Package ingest runs the scrape pipeline (fetch, extract, dedupe, store,
// embed, upsert) and the bulk load of the review file into the index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/pkg/fn"
	"github.com/rateprof/profrag/pkg/metrics"
	"github.com/rateprof/profrag/pkg/natsutil"
)

// Deps holds the external dependencies for the pipeline. Metrics, Notifier
// and Logger are optional.
type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	Store     Store
	Embedder  embed.Embedder
	Index     Index
	Notifier  Notifier
	Metrics   metrics.Recorder
	Logger    *slog.Logger

	// EmbedOptions is passed to the embedder as is. Dimensionality 0 asks
	// for the model's own default length.
	EmbedOptions embed.Options
	Namespace    string
	IDScheme     domain.IDScheme
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.IDScheme == "" {
		d.IDScheme = domain.IDSchemeProfessor
	}
}

// errDuplicate halts the pipeline without failing it.
type errDuplicate struct{ review domain.Review }

func (e *errDuplicate) Error() string { return "duplicate review " + e.review.Key().String() }

// stageFailure records how far the pipeline got before err.
type stageFailure struct {
	reached State
	err     error
}

func (e *stageFailure) Error() string { return e.err.Error() }
func (e *stageFailure) Unwrap() error { return e.err }

func failAt[T any](reached State, err error) fn.Result[T] {
	return fn.Err[T](&stageFailure{reached: reached, err: err})
}

// --- Pipeline Stages ---

// NewFetch creates the Fetch stage.
func NewFetch(f Fetcher) fn.Stage[string, page] {
	return func(ctx context.Context, url string) fn.Result[page] {
		html, err := f.Fetch(ctx, url)
		if err != nil {
			return failAt[page](StateStart, err)
		}
		return fn.Ok(page{URL: url, HTML: html})
	}
}

// NewExtract creates the Extract stage.
func NewExtract(x Extractor) fn.Stage[page, extracted] {
	return func(_ context.Context, p page) fn.Result[extracted] {
		r, err := x.Extract(p.HTML)
		if err != nil {
			return failAt[extracted](StateFetched, err)
		}
		return fn.Ok(extracted{URL: p.URL, Review: r})
	}
}

// NewStoreNovel creates the stage that appends a review unless the store
// already holds its key. A duplicate halts the pipeline.
func NewStoreNovel(s Store) fn.Stage[extracted, extracted] {
	return func(_ context.Context, e extracted) fn.Result[extracted] {
		added, err := s.AppendIfAbsent(e.Review)
		if err != nil {
			return failAt[extracted](StateExtracted, err)
		}
		if !added {
			return fn.Err[extracted](&errDuplicate{review: e.Review})
		}
		return fn.Ok(e)
	}
}

// NewEmbed creates the Embed stage.
func NewEmbed(e embed.Embedder, opts embed.Options, rec metrics.Recorder) fn.Stage[extracted, embedded] {
	return func(ctx context.Context, x extracted) fn.Result[embedded] {
		vec, err := embed.EmbedReview(ctx, e, x.Review, opts)
		if err != nil {
			return failAt[embedded](StateStored, err)
		}
		rec.RecordEmbeddings(ctx, 1)
		return fn.Ok(embedded{extracted: x, Vector: vec})
	}
}

// NewUpsert creates the Upsert stage.
func NewUpsert(ix Index, namespace string, scheme domain.IDScheme) fn.Stage[embedded, upserted] {
	return func(ctx context.Context, e embedded) fn.Result[upserted] {
		rec := Record(e.Review, e.Vector, scheme)
		n, err := ix.Upsert(ctx, []semantic.Record{rec}, namespace)
		if err != nil {
			return failAt[upserted](StateEmbedded, err)
		}
		return fn.Ok(upserted{embedded: e, VectorID: rec.ID, Count: n})
	}
}

// Record builds the index record for a review.
func Record(r domain.Review, vector []float32, scheme domain.IDScheme) semantic.Record {
	return semantic.Record{ID: scheme.VectorID(r), Values: vector, Metadata: r.Metadata()}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

func wrap[In, Out any](name string, d Deps, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	obs := func(ctx context.Context, s string, dur time.Duration, err error) {
		var dup *errDuplicate
		if errors.As(err, &dup) {
			err = nil
		}
		d.Metrics.RecordStage(ctx, s, dur, err)
	}
	return fn.Then(LoggedTap[In](name, d.Logger), fn.TracedStage("ingest."+name, fn.ObservedStage(name, obs, stage)))
}

// Pipeline is the scrape pipeline, split where the store has been written
// so a failure in the remote half can be compensated.
type Pipeline struct {
	deps   Deps
	local  fn.Stage[string, extracted]
	remote fn.Stage[extracted, upserted]
}

// NewPipeline wires every stage.
func NewPipeline(deps Deps) *Pipeline {
	deps.defaults()
	fetch := wrap("fetch", deps, NewFetch(deps.Fetcher))
	extract := wrap("extract", deps, NewExtract(deps.Extractor))
	store := wrap("store", deps, NewStoreNovel(deps.Store))
	emb := wrap("embed", deps, NewEmbed(deps.Embedder, deps.EmbedOptions, deps.Metrics))
	ups := wrap("upsert", deps, NewUpsert(deps.Index, deps.Namespace, deps.IDScheme))

	return &Pipeline{
		deps:   deps,
		local:  fn.Then(fetch, fn.Then(extract, store)),
		remote: fn.Then(emb, ups),
	}
}

// Scrape runs one URL through the pipeline. Invalid input yields a
// ValidationError outcome without invoking the fetcher.
func (p *Pipeline) Scrape(ctx context.Context, url string) Outcome {
	out := p.scrape(ctx, url)
	p.deps.Metrics.RecordScrape(ctx, string(out.State))
	log := p.deps.Logger.With("url", url, "state", out.State)
	switch out.State {
	case StateFailed:
		log.Error("scrape failed", "reached", out.Reached, "stage", domain.StageOf(out.Err), "err", out.Err)
	case StateDuplicate:
		log.Info("scrape skipped duplicate", "professor", out.Review.Professor, "subject", out.Review.Subject)
	default:
		log.Info("scrape ingested", "vector_id", out.VectorID, "upserted", out.Upserted)
	}
	return out
}

func (p *Pipeline) scrape(ctx context.Context, url string) Outcome {
	if err := domain.ValidateURL(url); err != nil {
		return Outcome{State: StateFailed, Reached: StateStart, Err: err}
	}

	stored, err := p.local(ctx, url).Unwrap()
	if err != nil {
		var dup *errDuplicate
		if errors.As(err, &dup) {
			return Outcome{State: StateDuplicate, Reached: StateExtracted, Review: dup.review}
		}
		return failed(err, StateStart, domain.Review{})
	}

	done, err := p.remote(ctx, stored).Unwrap()
	if err != nil {
		p.rollback(ctx, stored.Review)
		return failed(err, StateStored, stored.Review)
	}

	p.deps.Metrics.RecordUpserted(ctx, done.Count)
	p.notify(ctx, done)
	return Outcome{
		State:    StateUpserted,
		Reached:  StateUpserted,
		Review:   done.Review,
		VectorID: done.VectorID,
		Upserted: done.Count,
	}
}

func failed(err error, fallback State, r domain.Review) Outcome {
	reached := fallback
	var sf *stageFailure
	if errors.As(err, &sf) {
		reached = sf.reached
		err = sf.err
	}
	return Outcome{State: StateFailed, Reached: reached, Review: r, Err: err}
}

// rollback removes a review whose vector never reached the index, so the
// store does not report it as a duplicate on retry. It runs even when ctx
// has been cancelled.
func (p *Pipeline) rollback(ctx context.Context, r domain.Review) {
	removed, err := p.deps.Store.Remove(r.Key())
	if err != nil {
		p.deps.Logger.ErrorContext(ctx, "rollback store append failed", "key", r.Key().String(), "err", err)
		return
	}
	if removed {
		p.deps.Logger.WarnContext(ctx, "rolled back store append", "key", r.Key().String())
	}
}

func (p *Pipeline) notify(ctx context.Context, u upserted) {
	if p.deps.Notifier == nil {
		return
	}
	p.deps.Notifier.ReviewIngested(ctx, natsutil.ReviewIngested{
		Review:    u.Review,
		VectorID:  u.VectorID,
		Namespace: p.deps.Namespace,
		SourceURL: u.URL,
	})
}

// BulkResult summarises a bulk load.
type BulkResult struct {
	Loaded   int
	Skipped  int
	Upserted int
}

// BulkLoad embeds every stored review, one embedding call per review, and
// upserts them in a single call. Entries that fail validation are skipped.
func BulkLoad(ctx context.Context, deps Deps) (BulkResult, error) {
	deps.defaults()
	reviews, err := deps.Store.Load()
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{Loaded: len(reviews)}
	records := make([]semantic.Record, 0, len(reviews))
	for i, r := range reviews {
		if err := domain.ValidateReview(r); err != nil {
			deps.Logger.Warn("bulk load: skipping invalid review", "index", i, "err", err)
			res.Skipped++
			continue
		}
		vec, err := embed.EmbedReview(ctx, deps.Embedder, r, deps.EmbedOptions)
		if err != nil {
			return res, fmt.Errorf("ingest: embed review %d (%s): %w", i, r.Key(), err)
		}
		deps.Metrics.RecordEmbeddings(ctx, 1)
		records = append(records, Record(r, vec, deps.IDScheme))
	}

	n, err := deps.Index.Upsert(ctx, records, deps.Namespace)
	if err != nil {
		return res, err
	}
	res.Upserted = n
	deps.Metrics.RecordUpserted(ctx, n)
	deps.Logger.Info("bulk load complete", "loaded", res.Loaded, "skipped", res.Skipped, "upserted", n)
	return res, nil
}
