package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/ingest"
	"github.com/rateprof/profrag/engine/rag"
	"github.com/rateprof/profrag/pkg/mid"
)

const (
	codeScraped   = 100
	codeDuplicate = 300

	maxBodyBytes = 1 << 20
)

// Scraper runs one scrape of a review page.
type Scraper interface {
	Scrape(ctx context.Context, url string) ingest.Outcome
}

// Chatter answers a chat conversation, streaming into w.
type Chatter interface {
	Chat(ctx context.Context, msgs []rag.Message, w io.Writer) error
}

// server holds the handler dependencies. chat may be nil when no generator
// is configured.
type server struct {
	scraper   Scraper
	embedder  embed.Embedder
	chat      Chatter
	embedOpts embed.Options
	logger    *slog.Logger
}

// routes builds the chi router with the middleware stack applied.
func (s *server) routes(metricsHandler http.Handler, mw ...mid.Middleware) http.Handler {
	r := chi.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}
	r.Get("/api/health", handleHealth)
	r.Post("/calculate_text_embeddings", s.handleCalculateEmbeddings)
	r.Post("/embed_reviews", s.handleEmbedReviews)
	r.Get("/scrape", s.handleScrape)
	r.Post("/scrape", s.handleScrape)
	r.Post("/api/chat", s.handleChat)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps validation failures to 400 and everything else to 500.
func (s *server) writeErr(w http.ResponseWriter, err error) {
	if domain.IsValidation(err) {
		mid.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("request failed", "stage", domain.StageOf(err), "err", err)
	mid.WriteError(w, http.StatusInternalServerError, err.Error())
}

// decodeObject reads a JSON object body into raw fields so that an absent
// key can be told apart from an explicit null.
func decodeObject(r *http.Request) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("body must be a JSON object")
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// embedOptions resolves model_name and dimensionality. An absent
// dimensionality takes absentDim; null or 0 defers to the model default.
func (s *server) embedOptions(fields map[string]json.RawMessage, absentDim int) (embed.Options, error) {
	opts := embed.Options{Model: s.embedOpts.Model, Dimensionality: absentDim}
	if raw, ok := fields["model_name"]; ok && !isNull(raw) {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return opts, domain.NewValidationError("model_name", string(raw), domain.ErrInvalidType)
		}
		if name != "" {
			opts.Model = name
		}
	}
	if raw, ok := fields["dimensionality"]; ok {
		if isNull(raw) {
			opts.Dimensionality = 0
		} else if err := json.Unmarshal(raw, &opts.Dimensionality); err != nil {
			return opts, domain.NewValidationError("dimensionality", string(raw), domain.ErrInvalidType)
		}
	}
	return opts, nil
}

func (s *server) handleCalculateEmbeddings(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeObject(r)
	if err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var text string
	raw, ok := fields["text"]
	if !ok || json.Unmarshal(raw, &text) != nil || text == "" {
		mid.WriteError(w, http.StatusBadRequest, "Missing 'text' in request body or 'text' is not a string")
		return
	}
	opts, err := s.embedOptions(fields, s.embedOpts.Dimensionality)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	vecs, err := embed.EmbedText(r.Context(), s.embedder, text, opts)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vecs)
}

func (s *server) handleEmbedReviews(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeObject(r)
	if err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var reviews []map[string]any
	if raw, ok := fields["reviews"]; ok {
		if err := json.Unmarshal(raw, &reviews); err != nil {
			mid.WriteError(w, http.StatusBadRequest, "Reviews must be a list of dictionaries.")
			return
		}
	}
	opts, err := s.embedOptions(fields, 0)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	vecs, err := embed.EmbedReviews(r.Context(), s.embedder, reviews, opts)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vecs)
}

type scrapeRequest struct {
	URL string `json:"url"`
}

// scrapeResponse is the success and duplicate body of /scrape.
type scrapeResponse struct {
	Message     string         `json:"message"`
	Code        int            `json:"code"`
	ScrapedData *domain.Review `json:"scraped_data,omitempty"`
}

func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" && r.Method == http.MethodPost {
		var req scrapeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			mid.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		url = req.URL
	}
	if url == "" {
		mid.WriteError(w, http.StatusBadRequest, "You forgot to provide the URL for scraping the data")
		return
	}

	out := s.scraper.Scrape(r.Context(), url)
	switch out.State {
	case ingest.StateUpserted:
		review := out.Review
		writeJSON(w, http.StatusOK, scrapeResponse{
			Message:     "Data scraped successfully and upserted into the vector index",
			Code:        codeScraped,
			ScrapedData: &review,
		})
	case ingest.StateDuplicate:
		writeJSON(w, http.StatusOK, scrapeResponse{
			Message: "Duplicate entry found. The data will not be appended or upserted to the vector index.",
			Code:    codeDuplicate,
		})
	default:
		err := out.Err
		if err == nil {
			err = errors.New("scrape ended in state " + string(out.State))
		}
		s.writeErr(w, err)
	}
}

// trackingWriter remembers whether any body bytes reached the client, after
// which an error can no longer change the status.
type trackingWriter struct {
	w       http.ResponseWriter
	written bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if !t.written {
		t.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		t.written = true
	}
	return t.w.Write(p)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		mid.WriteError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var msgs []rag.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&msgs); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "body must be a JSON array of messages")
		return
	}

	tw := &trackingWriter{w: w}
	if err := s.chat.Chat(r.Context(), msgs, tw); err != nil {
		if tw.written {
			s.logger.Error("chat stream aborted", "err", err)
			return
		}
		s.writeErr(w, err)
	}
}
