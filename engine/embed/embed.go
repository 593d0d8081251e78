// Package embed turns review text into vectors through a hosted embedding
// model. Providers share one interface so the HTTP layer, the ingest
// pipeline and the bulk loader never depend on a specific SDK.
package embed

import (
	"context"
	"fmt"

	"github.com/rateprof/profrag/engine/domain"
)

const (
	// DefaultModel is the embedding model used when a request names none.
	DefaultModel = "text-embedding-004"
	// DefaultDimensionality is the vector length requested by default.
	DefaultDimensionality = 768
)

// Options selects the model and output length for one call. A zero
// Dimensionality leaves the length to the model's default.
type Options struct {
	Model          string
	Dimensionality int
}

// Defaults returns the options used by the scrape pipeline.
func Defaults() Options {
	return Options{Model: DefaultModel, Dimensionality: DefaultDimensionality}
}

func (o Options) model() string {
	if o.Model == "" {
		return DefaultModel
	}
	return o.Model
}

// Embedder computes one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, opts Options) ([][]float32, error)
}

// EmbedText embeds a single text and returns it as a one-row matrix. Only
// the empty string is rejected; whitespace is embedded as given.
func EmbedText(ctx context.Context, e Embedder, text string, opts Options) ([][]float32, error) {
	if text == "" {
		return nil, domain.NewValidationError("text", text, domain.ErrEmptyInput)
	}
	if opts.Dimensionality < 0 {
		return nil, domain.NewValidationError("dimensionality", fmt.Sprint(opts.Dimensionality), domain.ErrInvalidValue)
	}
	return call(ctx, e, []string{text}, opts)
}

// EmbedReviews embeds the "review" field of every entry.
func EmbedReviews(ctx context.Context, e Embedder, reviews []map[string]any, opts Options) ([][]float32, error) {
	if len(reviews) == 0 {
		return nil, domain.NewValidationError("reviews", "", domain.ErrEmptyInput)
	}
	texts := make([]string, len(reviews))
	for i, r := range reviews {
		field := fmt.Sprintf("reviews[%d].review", i)
		v, ok := r["review"]
		if !ok {
			return nil, domain.NewValidationError(field, "", domain.ErrMissingField)
		}
		s, ok := v.(string)
		if !ok {
			return nil, domain.NewValidationError(field, fmt.Sprint(v), domain.ErrInvalidType)
		}
		if s == "" {
			return nil, domain.NewValidationError(field, "", domain.ErrEmptyInput)
		}
		texts[i] = s
	}
	return call(ctx, e, texts, opts)
}

// EmbedReview embeds the text of one stored review.
func EmbedReview(ctx context.Context, e Embedder, r domain.Review, opts Options) ([]float32, error) {
	vecs, err := call(ctx, e, []string{r.Review}, opts)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func call(ctx context.Context, e Embedder, texts []string, opts Options) ([][]float32, error) {
	vecs, err := e.Embed(ctx, texts, opts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, domain.NewRemoteError("embedding", "embed",
			fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(texts)))
	}
	return vecs, nil
}
