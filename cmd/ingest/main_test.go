package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rateprof/profrag/engine/embed"
	"github.com/rateprof/profrag/engine/semantic"
	"github.com/rateprof/profrag/pkg/config"
)

type fakeIndex struct {
	ensured   int
	records   []semantic.Record
	namespace string
	ensureErr error
}

func (f *fakeIndex) Upsert(_ context.Context, records []semantic.Record, ns string) (int, error) {
	f.records, f.namespace = records, ns
	return len(records), nil
}

func (f *fakeIndex) EnsureIndex(_ context.Context, dims int) error {
	f.ensured = dims
	return f.ensureErr
}

func (f *fakeIndex) Stats(_ context.Context, _ string) (semantic.Stats, error) {
	return semantic.Stats{Dimension: 768, TotalPoints: uint64(len(f.records)), NamespacePoints: uint64(len(f.records))}, nil
}

func (f *fakeIndex) Name() string { return "rag" }

func testConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	t.Setenv("PROFRAG_EMBED_PROVIDER", "fake")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Path = filepath.Join(t.TempDir(), "reviews.json")
	require.NoError(t, os.WriteFile(cfg.Store.Path, []byte(content), 0o644))
	return cfg
}

func TestLoadUpsertsEveryReview(t *testing.T) {
	color.NoColor = true
	cfg := testConfig(t, `{"reviews": [
		{"professor": "Prof. A", "subject": "Math", "stars": 4, "review": "good"},
		{"professor": "Prof. B", "subject": "Art", "stars": 2, "review": "meh"}
	]}`)
	idx := &fakeIndex{}
	var out bytes.Buffer

	require.NoError(t, load(context.Background(), cfg, true, embed.NewDeterministic(), idx, &out))
	assert.Equal(t, 768, idx.ensured)
	assert.Len(t, idx.records, 2)
	assert.Equal(t, "ns1", idx.namespace)
	assert.Contains(t, out.String(), "Upserted count: 2")
	assert.Contains(t, out.String(), "namespace[ns1]=2")
}

func TestLoadWithoutCreateSkipsEnsure(t *testing.T) {
	color.NoColor = true
	cfg := testConfig(t, `{"reviews": []}`)
	idx := &fakeIndex{}
	var out bytes.Buffer
	require.NoError(t, load(context.Background(), cfg, false, embed.NewDeterministic(), idx, &out))
	assert.Zero(t, idx.ensured)
	assert.Contains(t, out.String(), "Upserted count: 0")
}

func TestLoadEnsureFailure(t *testing.T) {
	cfg := testConfig(t, `{"reviews": []}`)
	idx := &fakeIndex{ensureErr: errors.New("forbidden")}
	err := load(context.Background(), cfg, true, embed.NewDeterministic(), idx, &bytes.Buffer{})
	assert.ErrorContains(t, err, "forbidden")
}

func TestFlagsOverrideConfig(t *testing.T) {
	f, err := parseFlags([]string{"-store", "x.json", "-index", "prof", "-namespace", "ns9", "-dimension", "256", "-create"})
	require.NoError(t, err)
	cfg := testConfig(t, `{"reviews": []}`)
	f.apply(cfg)
	assert.Equal(t, "x.json", cfg.Store.Path)
	assert.Equal(t, "prof", cfg.Index.Name)
	assert.Equal(t, "ns9", cfg.Index.Namespace)
	assert.Equal(t, 256, cfg.Index.Dimension)
	assert.True(t, f.create)
}
