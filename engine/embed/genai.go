package embed

import (
	"context"
	"fmt"
	"math"

	"github.com/rateprof/profrag/engine/domain"
	"google.golang.org/genai"
)

// GenAI embeds through Google's Gen AI SDK, against either Vertex AI or the
// Gemini API.
type GenAI struct {
	client  *genai.Client
	service string
}

var _ Embedder = (*GenAI)(nil)

// NewVertex creates a Vertex AI embedder authenticated with Application
// Default Credentials.
func NewVertex(ctx context.Context, project, location string) (*GenAI, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  project,
		Location: location,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: vertex client: %w", err)
	}
	return &GenAI{client: c, service: "vertex"}, nil
}

// NewGemini creates a Gemini API embedder.
func NewGemini(ctx context.Context, apiKey string) (*GenAI, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: gemini client: %w", err)
	}
	return &GenAI{client: c, service: "gemini"}, nil
}

// Client exposes the underlying SDK client so the chat generator can share it.
func (g *GenAI) Client() *genai.Client { return g.client }

// Embed implements Embedder.
func (g *GenAI) Embed(ctx context.Context, texts []string, opts Options) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Role: "user", Parts: []*genai.Part{{Text: t}}}
	}

	cfg := &genai.EmbedContentConfig{}
	if opts.Dimensionality > 0 {
		if opts.Dimensionality > math.MaxInt32 {
			return nil, domain.NewValidationError("dimensionality", fmt.Sprint(opts.Dimensionality), domain.ErrInvalidValue)
		}
		dim := int32(opts.Dimensionality)
		cfg.OutputDimensionality = &dim
	}

	resp, err := g.client.Models.EmbedContent(ctx, opts.model(), contents, cfg)
	if err != nil {
		return nil, domain.NewRemoteError(g.service, "embed", err)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
