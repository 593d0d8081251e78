package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/ingest"
	"github.com/rateprof/profrag/engine/rag"
	"github.com/rateprof/profrag/engine/scraper"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/engine/store"
	"github.com/rateprof/profrag/pkg/mid"
)

type recordingIndex struct {
	mu    sync.Mutex
	calls [][]semantic.Record
	err   error
}

func (f *recordingIndex) Upsert(_ context.Context, records []semantic.Record, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, records)
	if f.err != nil {
		return 0, f.err
	}
	return len(records), nil
}

type countingFetcher struct {
	inner ingest.Fetcher
	calls int
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) (string, error) {
	c.calls++
	return c.inner.Fetch(ctx, url)
}

type stubChat struct {
	reply string
	err   error
	got   []rag.Message
}

func (s *stubChat) Chat(_ context.Context, msgs []rag.Message, w io.Writer) error {
	s.got = msgs
	if s.err != nil {
		return s.err
	}
	_, err := io.WriteString(w, s.reply)
	return err
}

type testEnv struct {
	handler  http.Handler
	page     *httptest.Server
	fetcher  *countingFetcher
	store    *store.File
	index    *recordingIndex
	embedder *embed.Deterministic
	chat     *stubChat
}

func newTestEnv(t *testing.T, storeContent string) *testEnv {
	t.Helper()
	html, err := os.ReadFile(filepath.Join("..", "..", "engine", "scraper", "testdata", "professor.html"))
	require.NoError(t, err)
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(html)
	}))
	t.Cleanup(page.Close)

	path := filepath.Join(t.TempDir(), "reviews.json")
	require.NoError(t, os.WriteFile(path, []byte(storeContent), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		page:     page,
		fetcher:  &countingFetcher{inner: scraper.NewFetcher()},
		store:    store.Open(path),
		index:    &recordingIndex{},
		embedder: embed.NewDeterministic(),
		chat:     &stubChat{reply: "Prof. Jane Doe is a good fit."},
	}
	pipeline := ingest.NewPipeline(ingest.Deps{
		Fetcher:   env.fetcher,
		Extractor: scraper.NewExtractor(scraper.ProfessorPageSchema),
		Store:     env.store,
		Embedder:  env.embedder,
		Index:     env.index,
		Logger:    logger,
		Namespace: "ns1",
	})
	srv := &server{
		scraper:   pipeline,
		embedder:  env.embedder,
		chat:      env.chat,
		embedOpts: embed.Defaults(),
		logger:    logger,
	}
	env.handler = srv.routes(nil, mid.Recover(logger), mid.CORS("*"))
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const emptyStore = `{"reviews": []}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestCalculateEmbeddings(t *testing.T) {
	env := newTestEnv(t, emptyStore)

	rec := env.do(t, http.MethodPost, "/calculate_text_embeddings", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[][]float32](t, rec)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], 768)

	rec = env.do(t, http.MethodPost, "/calculate_text_embeddings", `{"text":"hello","dimensionality":256,"model_name":"m2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[][]float32](t, rec)[0], 256)
	calls := env.embedder.Calls()
	assert.Equal(t, "m2", calls[len(calls)-1].Opts.Model)
}

func TestCalculateEmbeddingsNullDimensionalityUsesModelDefault(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodPost, "/calculate_text_embeddings", `{"text":"hello","dimensionality":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	calls := env.embedder.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0, calls[0].Opts.Dimensionality)
	assert.Equal(t, embed.DefaultModel, calls[0].Opts.Model)
}

func TestCalculateEmbeddingsRejectsBadText(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	for _, body := range []string{`{}`, `{"text":""}`, `{"text":42}`, `not json`, `null`} {
		rec := env.do(t, http.MethodPost, "/calculate_text_embeddings", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.NotEmpty(t, decode[map[string]string](t, rec)["error"], body)
	}
	assert.Empty(t, env.embedder.Calls())
}

func TestCalculateEmbeddingsRemoteFailure(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	env.embedder.Err = domain.NewRemoteError("embedding", "embed", errors.New("quota exceeded"))
	rec := env.do(t, http.MethodPost, "/calculate_text_embeddings", `{"text":"hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "quota exceeded")
}

func TestEmbedReviews(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodPost, "/embed_reviews", `{"reviews":[{"review":"a"},{"review":"b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[][]float32](t, rec), 2)
	assert.Equal(t, 0, env.embedder.Calls()[0].Opts.Dimensionality)

	rec = env.do(t, http.MethodPost, "/embed_reviews", `{"reviews":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/embed_reviews", `{"reviews":[{"text":"a"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrapeNovel(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodGet, "/scrape?url="+env.page.URL+"/jane", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[scrapeResponse](t, rec)
	assert.Equal(t, codeScraped, resp.Code)
	require.NotNil(t, resp.ScrapedData)
	want := domain.Review{Professor: "Prof. Jane Doe", Subject: "Mathematics", Stars: 4.5, Review: "Great lectures, fair exams."}
	assert.Equal(t, want, *resp.ScrapedData)

	stored, err := env.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []domain.Review{want}, stored)

	require.Len(t, env.index.calls, 1)
	require.Len(t, env.index.calls[0], 1)
	rec0 := env.index.calls[0][0]
	assert.Equal(t, "Prof. Jane Doe", rec0.ID)
	assert.Equal(t, "Mathematics", rec0.Metadata["subject"])
	assert.Equal(t, "Great lectures, fair exams.", rec0.Metadata["review"])
}

func TestScrapeURLFromPostBody(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodPost, "/scrape", `{"url":"`+env.page.URL+`/jane"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, codeScraped, decode[scrapeResponse](t, rec).Code)
}

func TestScrapeDuplicate(t *testing.T) {
	existing := `{"reviews": [{"professor": "Prof. Jane Doe", "subject": "Mathematics", "stars": 3, "review": "old"}]}`
	env := newTestEnv(t, existing)
	before, err := os.ReadFile(env.store.Path())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/scrape?url="+env.page.URL+"/jane", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[scrapeResponse](t, rec)
	assert.Equal(t, codeDuplicate, resp.Code)
	assert.Nil(t, resp.ScrapedData)

	after, err := os.ReadFile(env.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, env.index.calls)
}

func TestScrapeMissingURL(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	for _, rec := range []*httptest.ResponseRecorder{
		env.do(t, http.MethodGet, "/scrape", ""),
		env.do(t, http.MethodPost, "/scrape", `{}`),
		env.do(t, http.MethodPost, "/scrape", ""),
	} {
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
	}
	assert.Zero(t, env.fetcher.calls)
}

func TestScrapeFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		env := newTestEnv(t, emptyStore)
		rec := env.do(t, http.MethodGet, "/scrape?url="+env.page.URL+"/missing", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "404")
		assert.Empty(t, env.index.calls)
	})

	t.Run("embed", func(t *testing.T) {
		env := newTestEnv(t, emptyStore)
		env.embedder.Err = errors.New("embedding service down")
		rec := env.do(t, http.MethodGet, "/scrape?url="+env.page.URL+"/jane", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "embedding service down")
		assert.Empty(t, env.index.calls)
		stored, err := env.store.Load()
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("upsert", func(t *testing.T) {
		env := newTestEnv(t, emptyStore)
		env.index.err = errors.New("index unavailable")
		rec := env.do(t, http.MethodGet, "/scrape?url="+env.page.URL+"/jane", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "index unavailable")
		stored, err := env.store.Load()
		require.NoError(t, err)
		assert.Empty(t, stored)
	})
}

func TestChatStreams(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodPost, "/api/chat", `[{"role":"user","content":"Who teaches math?"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Prof. Jane Doe is a good fit.", rec.Body.String())
	require.Len(t, env.chat.got, 1)
	assert.Equal(t, "Who teaches math?", env.chat.got[0].Content)
}

func TestChatErrors(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodPost, "/api/chat", `{"role":"user"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.chat.err = domain.NewValidationError("messages", "", domain.ErrEmptyInput)
	rec = env.do(t, http.MethodPost, "/api/chat", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.chat.err = errors.New("generator down")
	rec = env.do(t, http.MethodPost, "/api/chat", `[{"role":"user","content":"q"}]`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChatNotConfigured(t *testing.T) {
	srv := &server{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	rec := httptest.NewRecorder()
	srv.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`[]`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, emptyStore)
	rec := env.do(t, http.MethodOptions, "/scrape", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsRoute(t *testing.T) {
	srv := &server{logger: slog.Default()}
	h := srv.routes(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "profrag_up 1\n")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "profrag_up")
}
