package ingest

import (
	"context"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/pkg/natsutil"
)

// State is a point in the life of one scrape request.
type State string

const (
	StateStart     State = "start"
	StateFetched   State = "fetched"
	StateExtracted State = "extracted"
	StateDuplicate State = "duplicate"
	StateStored    State = "stored"
	StateEmbedded  State = "embedded"
	StateUpserted  State = "upserted"
	StateFailed    State = "failed"
)

// Outcome is the terminal result of Scrape. Err is set only when State is
// StateFailed; Reached is the last state completed before the failure.
type Outcome struct {
	State    State
	Reached  State
	Review   domain.Review
	VectorID string
	Upserted int
	Err      error
}

// Fetcher downloads a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns page HTML into a review.
type Extractor interface {
	Extract(html string) (domain.Review, error)
}

// Store is the review file.
type Store interface {
	Load() ([]domain.Review, error)
	AppendIfAbsent(r domain.Review) (bool, error)
	Remove(key domain.Key) (bool, error)
}

// Index receives review vectors.
type Index interface {
	Upsert(ctx context.Context, records []semantic.Record, namespace string) (int, error)
}

// Notifier announces ingested reviews.
type Notifier interface {
	ReviewIngested(ctx context.Context, ev natsutil.ReviewIngested)
}

// page and the types below carry one request through the stages.
type page struct {
	URL  string
	HTML string
}

type extracted struct {
	URL    string
	Review domain.Review
}

type embedded struct {
	extracted
	Vector []float32
}

type upserted struct {
	embedded
	VectorID string
	Count    int
}
