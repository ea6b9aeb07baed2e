package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// Embedder turns text into a vector in the corpus embedding space.
// Implementations are expected to fail: the provider is a network
// service that may be down, slow, or misconfigured. Callers must treat
// an error (or a nil vector) as "no embedding available" and degrade.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NoopEmbedder never produces a vector. Wiring it keeps the whole
// pipeline on the deterministic fallback path, which is how chatBIS
// runs offline and in most tests.
type NoopEmbedder struct{}

// Embed returns (nil, nil): no vector, no error.
func (NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

var _ Embedder = NoopEmbedder{}

// fallbackEmbedding derives a placeholder vector from the query text
// alone. FNV-1a seeds a PRNG, so the same text always maps to the same
// unit vector: retrieval through an outage stays deterministic and
// reproducible, just without semantic relevance.
func fallbackEmbedding(text string, dimension int) []float32 {
	if dimension <= 0 {
		return nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		v := rng.Float64()*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
