package natsutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rateprof/profrag/engine/domain"
)

// DefaultSubject carries ReviewIngested events.
const DefaultSubject = "reviews.ingested"

// ReviewIngested is published after a review vector has been upserted.
type ReviewIngested struct {
	Review     domain.Review `json:"review"`
	VectorID   string        `json:"vector_id"`
	Namespace  string        `json:"namespace"`
	SourceURL  string        `json:"source_url,omitempty"`
	IngestedAt time.Time     `json:"ingested_at"`
}

// Publisher sends ingestion events. Failures are logged and swallowed so a
// broker outage never fails ingestion.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
	owned   bool
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("profrag"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("natsutil: connect %s: %w", url, err)
	}
	p := NewPublisher(nc, subject, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(nc *nats.Conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger}
}

// ReviewIngested publishes ev. A nil Publisher is a no-op.
func (p *Publisher) ReviewIngested(ctx context.Context, ev ReviewIngested) {
	if p == nil {
		return
	}
	if ev.IngestedAt.IsZero() {
		ev.IngestedAt = time.Now().UTC()
	}
	if err := Publish(ctx, p.nc, p.subject, ev); err != nil {
		p.logger.Warn("publish ingestion event failed", "subject", p.subject, "vector_id", ev.VectorID, "err", err)
	}
}

// Close drains the connection if the Publisher opened it.
func (p *Publisher) Close() error {
	if p == nil || !p.owned {
		return nil
	}
	return p.nc.Drain()
}
