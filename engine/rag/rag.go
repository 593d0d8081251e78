// Package rag answers student questions about professors. It embeds the
// latest message, retrieves the nearest reviews from the index, appends them
// to the question and streams a generated answer.
package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/semantic"
)

// Message is one chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Searcher abstracts the vector index query.
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]semantic.Match, error)
}

// Generator streams a model answer for prompt, given earlier turns, into w.
type Generator interface {
	Stream(ctx context.Context, system string, history []Message, prompt string, w io.Writer) error
}

// Options configures retrieval.
type Options struct {
	TopK         int
	Namespace    string
	SystemPrompt string
	Embed        embed.Options
}

// DefaultOptions returns the retrieval defaults.
func DefaultOptions() Options {
	return Options{
		TopK:         5,
		Namespace:    "ns1",
		SystemPrompt: SystemPrompt,
		Embed:        embed.Defaults(),
	}
}

// Service is the chat orchestration service.
type Service struct {
	embedder embed.Embedder
	search   Searcher
	gen      Generator
	opts     Options
	logger   *slog.Logger
}

// New creates a chat Service.
func New(e embed.Embedder, s Searcher, g Generator, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = SystemPrompt
	}
	return &Service{embedder: e, search: s, gen: g, opts: opts, logger: logger}
}

// Chat answers the last message of msgs, streaming the reply into w.
func (s *Service) Chat(ctx context.Context, msgs []Message, w io.Writer) error {
	if len(msgs) == 0 {
		return domain.NewValidationError("messages", "", domain.ErrEmptyInput)
	}
	last := msgs[len(msgs)-1]
	if strings.TrimSpace(last.Content) == "" {
		return domain.NewValidationError("content", "", domain.ErrMissingField)
	}

	vecs, err := embed.EmbedText(ctx, s.embedder, last.Content, s.opts.Embed)
	if err != nil {
		return fmt.Errorf("rag: embed question: %w", err)
	}

	matches, err := s.search.Query(ctx, vecs[0], s.opts.TopK, s.opts.Namespace)
	if err != nil {
		return fmt.Errorf("rag: query index: %w", err)
	}
	s.logger.Info("rag retrieval done", "matches", len(matches), "namespace", s.opts.Namespace)

	prompt := last.Content + FormatResults(matches)
	if err := s.gen.Stream(ctx, s.opts.SystemPrompt, msgs[:len(msgs)-1], prompt, w); err != nil {
		return fmt.Errorf("rag: generate: %w", err)
	}
	return nil
}

// FormatResults renders matches as the block appended to the question.
func FormatResults(matches []semantic.Match) string {
	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "\n  Returned Results:\n  Professor: %s\n  Review: %v\n  Subject: %v\n  Stars: %v\n\n\n",
			m.ID, meta(m, "review"), meta(m, "subject"), meta(m, "stars"))
	}
	return b.String()
}

func meta(m semantic.Match, key string) any {
	if v, ok := m.Metadata[key]; ok && v != nil {
		return v
	}
	return "n/a"
}

// SystemPrompt instructs the model how to present retrieved professors.
const SystemPrompt = `You are an AI assistant specializing in helping students find professors based on their specific criteria. Your primary function is to analyze user queries and provide information about the top 3 most relevant professors using a Retrieval-Augmented Generation (RAG) system.

For each user query:

1. Analyze the student's request, identifying key criteria such as subject area, teaching style, difficulty level, or any other specific requirements.
2. Use the RAG system to retrieve information about the top 3 professors who best match the criteria.
3. Present the information for each professor in a clear, concise format that includes:
   - professor: Professor's name
   - subject: Subject the professor teaches
   - stars: Overall rating given by students
   - review: A brief summary of student feedback
4. If the query is too broad or lacks specific criteria, ask follow-up questions to refine the search.
5. Maintain a neutral tone and provide objective information based on the data available in the RAG system.
6. If asked, explain the reasoning behind your professor selections.
7. Remind students that while this information can be helpful, it's always best to research further and consider multiple sources when making decisions about courses or professors.
8. Do not invent or fabricate information about professors. If certain details are not available in the RAG system, clearly state this.
9. Respect privacy and adhere to ethical guidelines. Do not share personal information about professors beyond what is publicly available and relevant to their professional roles.
10. Be prepared to answer follow-up questions about the professors or help refine the search based on additional criteria.

Remember, your goal is to assist students in making informed decisions about their education while providing accurate and helpful information based on the data available in the RAG system.`
