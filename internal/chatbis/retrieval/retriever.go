package retrieval

import (
	"context"
	"log/slog"

	"github.com/BAMresearch/chatBIS/common/trace"
)

// Retriever turns a raw query into a ranked set of supporting chunks.
// The embedding provider failing, hanging, or answering in the wrong
// dimension never surfaces as an error: the retriever substitutes the
// deterministic fallback embedding and keeps the turn moving with
// degraded relevance.
type Retriever struct {
	index    *Index
	embedder Embedder
}

// NewRetriever wires an index to an embedding provider. A nil embedder
// is replaced by NoopEmbedder.
func NewRetriever(index *Index, embedder Embedder) *Retriever {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	return &Retriever{index: index, embedder: embedder}
}

// Retrieve returns the top k chunks for query, ordered by descending
// score. k is caller policy: conversation turns use a smaller k than
// standalone queries.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) []ScoredChunk {
	vec, err := r.embedder.Embed(ctx, query)
	switch {
	case err != nil:
		slog.Warn("retrieval: embedding provider unavailable, using fallback embedding",
			"trace", trace.FromContext(ctx), "err", err)
		vec = fallbackEmbedding(query, r.index.Dimension())
	case len(vec) != r.index.Dimension():
		// A nil vector is the NoopEmbedder contract and stays quiet; a
		// wrong-size vector means the provider embeds with a different
		// model than the corpus and deserves a warning.
		if len(vec) > 0 {
			slog.Warn("retrieval: embedding dimension mismatch, using fallback embedding",
				"trace", trace.FromContext(ctx),
				"got", len(vec), "want", r.index.Dimension())
		}
		vec = fallbackEmbedding(query, r.index.Dimension())
	}

	return r.index.Nearest(vec, k)
}
