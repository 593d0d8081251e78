package embed

import (
	"context"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/rateprof/profrag/engine/domain"
)

// OpenAI embeds through the OpenAI embeddings API. The model name is passed
// through unchanged, so callers must pick an OpenAI model.
type OpenAI struct {
	sdk openaisdk.Client
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder. baseURL may be empty.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{sdk: openaisdk.NewClient(opts...)}
}

// Embed implements Embedder.
func (o *OpenAI) Embed(ctx context.Context, texts []string, opts Options) ([][]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(opts.model()),
	}
	if opts.Dimensionality > 0 {
		params.Dimensions = param.NewOpt(int64(opts.Dimensionality))
	}

	resp, err := o.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, domain.NewRemoteError("openai", "embed", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			continue
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		out[d.Index] = v
	}
	return out, nil
}
