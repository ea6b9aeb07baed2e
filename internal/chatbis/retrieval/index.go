// Package retrieval implements the similarity search half of the
// assistant: an in-memory cosine index over the corpus chunks, the
// embedding provider abstraction, and the retriever that ties the two
// together with a deterministic fallback for provider outages.
package retrieval

import (
	"fmt"
	"math"
	"sort"

	"github.com/BAMresearch/chatBIS/internal/chatbis/corpus"
)

// ScoredChunk pairs a chunk with its similarity to a query. Transient:
// produced per query, never persisted.
type ScoredChunk struct {
	Chunk corpus.Chunk
	Score float64
}

// Index answers nearest-neighbor queries over the corpus embeddings.
// It holds no mutable state after construction, so any number of
// sessions may query it concurrently without locking.
type Index struct {
	chunks    []corpus.Chunk
	dimension int
}

// NewIndex builds an index over chunks. Every chunk must carry an
// embedding of the same dimensionality; violations wrap
// corpus.ErrSchemaMismatch so a corpus assembled from mixed batch runs
// is rejected up front rather than scoring garbage at query time.
func NewIndex(chunks []corpus.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("retrieval: index needs at least one chunk")
	}

	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return nil, fmt.Errorf("retrieval: chunk %q has no embedding: %w", chunks[0].ID, corpus.ErrSchemaMismatch)
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != dim {
			return nil, fmt.Errorf("retrieval: chunk %q embedding dimension %d, want %d: %w",
				ch.ID, len(ch.Embedding), dim, corpus.ErrSchemaMismatch)
		}
	}

	// Snapshot the slice so later mutations by the caller cannot reach
	// the index.
	own := make([]corpus.Chunk, len(chunks))
	copy(own, chunks)

	return &Index{chunks: own, dimension: dim}, nil
}

// Dimension returns the embedding dimensionality of the indexed corpus.
func (ix *Index) Dimension() int { return ix.dimension }

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Nearest returns the k chunks most similar to query, ordered by
// descending cosine score. Equal scores keep their original corpus
// order, so results are reproducible across runs. Fewer than k results
// come back only when the index holds fewer than k chunks.
func (ix *Index) Nearest(query []float32, k int) []ScoredChunk {
	if k <= 0 {
		return nil
	}

	scored := make([]ScoredChunk, len(ix.chunks))
	for i, ch := range ix.chunks {
		scored[i] = ScoredChunk{Chunk: ch, Score: cosineSimilarity(query, ch.Embedding)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when the lengths differ or either vector has zero norm, so
// a degenerate embedding can never divide by zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
