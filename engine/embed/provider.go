package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/rateprof/profrag/pkg/ollama"
)

// Provider names accepted by New.
const (
	ProviderVertex = "vertex"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderFake   = "fake"
)

// ProviderConfig carries the settings any provider may need.
type ProviderConfig struct {
	Provider string
	Project  string
	Location string
	APIKey   string
	BaseURL  string
	// Model is only consulted by ollama. Empty or the Google default maps to
	// ollama.DefaultEmbedModel.
	Model string
}

// New builds the Embedder selected by cfg.Provider.
func New(ctx context.Context, cfg ProviderConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderVertex:
		if cfg.Project == "" {
			return nil, fmt.Errorf("embed: vertex provider needs a project")
		}
		return NewVertex(ctx, cfg.Project, cfg.Location)
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embed: gemini provider needs an api key")
		}
		return NewGemini(ctx, cfg.APIKey)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embed: openai provider needs an api key")
		}
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	case ProviderOllama:
		model := cfg.Model
		if model == "" || model == DefaultModel {
			model = ollama.DefaultEmbedModel
		}
		c, err := ollama.NewEmbedClient(cfg.BaseURL, model, nil)
		if err != nil {
			return nil, err
		}
		return NewOllama(c, model), nil
	case ProviderFake:
		return NewDeterministic(), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}
