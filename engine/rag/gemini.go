package rag

import (
	"context"
	"fmt"
	"io"

	"github.com/rateprof/profrag/engine/domain"
	"google.golang.org/genai"
)

// GeminiOptions configures generation.
type GeminiOptions struct {
	Model       string
	Temperature float32
	TopP        float32
}

// DefaultGeminiOptions returns the generation defaults.
func DefaultGeminiOptions() GeminiOptions {
	return GeminiOptions{Model: "gemini-1.5-flash-001", Temperature: 1, TopP: 0.95}
}

// GeminiGenerator streams answers from a Gemini model.
type GeminiGenerator struct {
	client *genai.Client
	opts   GeminiOptions
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator wraps an existing Gen AI client.
func NewGeminiGenerator(client *genai.Client, opts GeminiOptions) *GeminiGenerator {
	if opts.Model == "" {
		opts.Model = DefaultGeminiOptions().Model
	}
	return &GeminiGenerator{client: client, opts: opts}
}

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryHateSpeech,
	genai.HarmCategoryDangerousContent,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryHarassment,
}

func (g *GeminiGenerator) config(system string) *genai.GenerateContentConfig {
	temp, topP := g.opts.Temperature, g.opts.TopP
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
		TopP:        &topP,
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	for _, c := range harmCategories {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return cfg
}

// Contents maps chat turns to model contents. Assistant turns use the
// model role.
func Contents(history []Message, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" || m.Role == "model" {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: prompt}}})
}

// Stream implements Generator. Each text part is written and flushed as it
// arrives.
func (g *GeminiGenerator) Stream(ctx context.Context, system string, history []Message, prompt string, w io.Writer) error {
	flusher, _ := w.(interface{ Flush() })
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.opts.Model, Contents(history, prompt), g.config(system)) {
		if err != nil {
			return domain.NewRemoteError("gemini", "generate", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			if _, err := io.WriteString(w, part.Text); err != nil {
				return fmt.Errorf("rag: write chunk: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
	return nil
}
