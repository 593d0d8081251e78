// Package ollama wraps the Ollama API client for text embeddings and
// streaming chat.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultURL is the address of a local Ollama server.
	DefaultURL = "http://localhost:11434"
	// DefaultEmbedModel is a 768-dimension embedding model.
	DefaultEmbedModel = "nomic-embed-text"
)

// EmbedClient embeds text with a model served by Ollama.
type EmbedClient struct {
	client *api.Client
	model  string
}

// NewEmbedClient creates an Ollama embedding client. model is used when a
// call does not name one.
func NewEmbedClient(baseURL, model string, hc *http.Client) (*EmbedClient, error) {
	c, err := newAPIClient(baseURL, hc)
	if err != nil {
		return nil, err
	}
	return &EmbedClient{client: c, model: model}, nil
}

func newAPIClient(baseURL string, hc *http.Client) (*api.Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse url %q: %w", baseURL, err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return api.NewClient(u, hc), nil
}

// Embed returns one vector per text. Ollama's embeddings endpoint takes a
// single prompt, so texts are sent one at a time.
func (c *EmbedClient) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model == "" {
		model = c.model
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		resp, err := c.client.Embeddings(ctx, &api.EmbeddingRequest{Model: model, Prompt: text})
		if err != nil {
			return nil, fmt.Errorf("ollama embed [%d]: %w", i, err)
		}
		vals := make([]float32, len(resp.Embedding))
		for j, v := range resp.Embedding {
			vals[j] = float32(v)
		}
		out[i] = vals
	}
	return out, nil
}
