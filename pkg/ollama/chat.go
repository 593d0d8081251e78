package ollama

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ollama/ollama/api"
)

// DefaultChatModel is used when NewChatClient is given no model.
const DefaultChatModel = "llama3.1:8b"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// ChatClient streams chat completions from Ollama.
type ChatClient struct {
	client *api.Client
	model  string
}

// NewChatClient creates a streaming chat client.
func NewChatClient(baseURL, model string, hc *http.Client) (*ChatClient, error) {
	c, err := newAPIClient(baseURL, hc)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultChatModel
	}
	return &ChatClient{client: c, model: model}, nil
}

// Model returns the model the client chats with.
func (c *ChatClient) Model() string { return c.model }

// Stream sends msgs and calls onToken with every non-empty content chunk
// until the model reports done. An error from onToken stops the stream.
func (c *ChatClient) Stream(ctx context.Context, msgs []Message, options map[string]any, onToken func(string) error) error {
	stream := true
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: make([]api.Message, len(msgs)),
		Stream:   &stream,
		Options:  options,
	}
	for i, m := range msgs {
		req.Messages[i] = api.Message{Role: m.Role, Content: m.Content}
	}
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		return onToken(resp.Message.Content)
	})
	if err != nil {
		return fmt.Errorf("ollama chat: %w", err)
	}
	return nil
}
