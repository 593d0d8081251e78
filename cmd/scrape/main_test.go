package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rateprof/profrag/engine/domain"
	"github.com/rateprof/profrag/engine/ingest"
)

type scriptedScraper struct {
	outcomes map[string]ingest.Outcome
	seen     []string
	after    func()
}

func (s *scriptedScraper) Scrape(_ context.Context, url string) ingest.Outcome {
	s.seen = append(s.seen, url)
	if s.after != nil {
		s.after()
	}
	return s.outcomes[url]
}

func TestScrapeAllCountsOutcomes(t *testing.T) {
	color.NoColor = true
	jane := domain.Review{Professor: "Prof. Jane Doe", Subject: "Mathematics", Stars: 4.5}
	s := &scriptedScraper{outcomes: map[string]ingest.Outcome{
		"https://a": {State: ingest.StateUpserted, Review: jane},
		"https://b": {State: ingest.StateDuplicate, Review: jane},
		"https://c": {State: ingest.StateFailed, Reached: ingest.StateFetched, Err: errors.New("selector matched nothing")},
	}}
	var out bytes.Buffer

	sum := scrapeAll(context.Background(), s, []string{"https://a", "https://b", "https://c"}, rate.NewLimiter(rate.Inf, 1), &out)

	assert.Equal(t, Summary{Ingested: 1, Duplicates: 1, Failed: 1}, sum)
	assert.Equal(t, []string{"https://a", "https://b", "https://c"}, s.seen)
	assert.Contains(t, out.String(), "ingested   https://a  Prof. Jane Doe (Mathematics, 4.5)")
	assert.Contains(t, out.String(), "duplicate  https://b")
	assert.Contains(t, out.String(), "failed     https://c  at fetched: selector matched nothing")
}

func TestScrapeAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scriptedScraper{}
	sum := scrapeAll(ctx, s, []string{"https://a"}, rate.NewLimiter(1, 1), &bytes.Buffer{})
	assert.Equal(t, Summary{Failed: 1}, sum)
	assert.Empty(t, s.seen)
}

func TestScrapeAllCountsSkippedAsFailed(t *testing.T) {
	color.NoColor = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jane := domain.Review{Professor: "Prof. Jane Doe", Subject: "Mathematics", Stars: 4.5}
	s := &scriptedScraper{
		outcomes: map[string]ingest.Outcome{"https://a": {State: ingest.StateUpserted, Review: jane}},
		after:    cancel,
	}
	var out bytes.Buffer

	sum := scrapeAll(ctx, s, []string{"https://a", "https://b", "https://c"}, rate.NewLimiter(rate.Inf, 1), &out)

	assert.Equal(t, Summary{Ingested: 1, Failed: 2}, sum)
	assert.Equal(t, []string{"https://a"}, s.seen)
	assert.Contains(t, out.String(), "skipped    2 remaining pages")
}

func TestReadURLs(t *testing.T) {
	urls, err := readURLs(strings.NewReader("# professors\nhttps://a\n\n  https://b  \n#https://c\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, urls)
}
