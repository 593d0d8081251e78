package semantic

// Record is one vector to upsert. ID is the caller's vector id (for example
// the professor name); the Qdrant point id is derived from it.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a single query hit.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Stats describes the index.
type Stats struct {
	Dimension       int
	TotalPoints     uint64
	NamespacePoints uint64
}

// Payload keys the index reserves next to caller metadata.
const (
	KeyVectorID  = "vector_id"
	KeyNamespace = "namespace"
)
