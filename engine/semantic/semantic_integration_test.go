//go:build integration

package semantic

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// qdrantAddr returns QDRANT_ADDR when set, otherwise starts a throwaway
// Qdrant container.
func qdrantAddr(t *testing.T) string {
	t.Helper()
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		return v
	}

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.12.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	if err != nil {
		t.Fatalf("start qdrant: %v", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6334/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return net.JoinHostPort(host, port.Port())
}

func testIndex(t *testing.T, collection string) *Index {
	t.Helper()
	ix, err := New(Options{Addr: qdrantAddr(t), Collection: collection})
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		_ = ix.DeleteIndex(context.Background())
		_ = ix.Close()
	})
	return ix
}

func TestQdrant_UpsertQueryStats(t *testing.T) {
	ix := testIndex(t, "test_reviews")
	ctx := context.Background()

	if err := ix.EnsureIndex(ctx, 4); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if err := ix.EnsureIndex(ctx, 4); err != nil {
		t.Fatalf("EnsureIndex (idempotent): %v", err)
	}

	records := []Record{
		{ID: "Prof. A", Values: []float32{1, 0, 0, 0}, Metadata: map[string]any{"review": "clear", "subject": "Math", "stars": 5.0}},
		{ID: "Prof. B", Values: []float32{0, 1, 0, 0}, Metadata: map[string]any{"review": "hard", "subject": "Physics", "stars": 2.0}},
	}
	n, err := ix.Upsert(ctx, records, "ns1")
	if err != nil || n != 2 {
		t.Fatalf("Upsert: %d, %v", n, err)
	}
	if _, err := ix.Upsert(ctx, records[:1], "other"); err != nil {
		t.Fatalf("Upsert other namespace: %v", err)
	}

	// Same vector id overwrites rather than adds.
	if _, err := ix.Upsert(ctx, records[:1], "ns1"); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	matches, err := ix.Query(ctx, []float32{1, 0, 0, 0}, 5, "ns1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "Prof. A" {
		t.Fatalf("matches = %+v", matches)
	}

	st, err := ix.Stats(ctx, "ns1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Dimension != 4 || st.NamespacePoints != 2 || st.TotalPoints != 3 {
		t.Errorf("stats = %+v", st)
	}
}
