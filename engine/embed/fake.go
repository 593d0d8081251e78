package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// Deterministic derives unit vectors from a SHA-256 hash of each text. It
// needs no network and returns the same vector for the same text and
// dimensionality. Calls are recorded for tests.
type Deterministic struct {
	mu    sync.Mutex
	calls []Call
	// Err, when set, is returned by every call.
	Err error
}

// Call records one Embed invocation.
type Call struct {
	Texts []string
	Opts  Options
}

var _ Embedder = (*Deterministic)(nil)

// NewDeterministic returns a ready fake.
func NewDeterministic() *Deterministic { return &Deterministic{} }

// Embed implements Embedder.
func (d *Deterministic) Embed(_ context.Context, texts []string, opts Options) ([][]float32, error) {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Texts: append([]string(nil), texts...), Opts: opts})
	err := d.Err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	dim := opts.Dimensionality
	if dim <= 0 {
		dim = DefaultDimensionality
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, dim)
	}
	return out, nil
}

// Calls returns a copy of the recorded invocations.
func (d *Deterministic) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	var norm float64
	for i := 0; i < dim; i++ {
		off := (i * 4) % len(block)
		if i > 0 && off == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.BigEndian.Uint32(block[off : off+4])
		f := float64(u)/float64(math.MaxUint32)*2 - 1
		v[i] = float32(f)
		norm += f * f
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
