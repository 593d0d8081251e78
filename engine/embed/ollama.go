package embed

import (
	"context"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/pkg/ollama"
)

// Ollama adapts an Ollama client to Embedder. Dimensionality is ignored;
// the served model decides the vector length.
type Ollama struct {
	client *ollama.EmbedClient
	// model overrides Options.Model, whose default names a Google model.
	model string
}

var _ Embedder = (*Ollama)(nil)

// NewOllama wraps c. model may be empty to use the client's default.
func NewOllama(c *ollama.EmbedClient, model string) *Ollama {
	return &Ollama{client: c, model: model}
}

// Embed implements Embedder.
func (o *Ollama) Embed(ctx context.Context, texts []string, _ Options) ([][]float32, error) {
	vecs, err := o.client.Embed(ctx, texts, o.model)
	if err != nil {
		return nil, domain.NewRemoteError("ollama", "embed", err)
	}
	return vecs, nil
}
