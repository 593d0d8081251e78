package rag

import (
	"context"
	"fmt"
	"io"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/pkg/ollama"
)

// OllamaGenerator streams answers from a locally served model.
type OllamaGenerator struct {
	client      *ollama.ChatClient
	temperature float32
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator wraps c.
func NewOllamaGenerator(c *ollama.ChatClient, temperature float32) *OllamaGenerator {
	return &OllamaGenerator{client: c, temperature: temperature}
}

// Stream implements Generator.
func (g *OllamaGenerator) Stream(ctx context.Context, system string, history []Message, prompt string, w io.Writer) error {
	msgs := make([]ollama.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: system})
	}
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		msgs = append(msgs, ollama.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: prompt})

	flusher, _ := w.(interface{ Flush() })
	var writeErr error
	err := g.client.Stream(ctx, msgs, map[string]any{"temperature": g.temperature}, func(tok string) error {
		if _, err := io.WriteString(w, tok); err != nil {
			writeErr = fmt.Errorf("rag: write chunk: %w", err)
			return writeErr
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return domain.NewRemoteError("ollama", "chat", err)
	}
	return nil
}
