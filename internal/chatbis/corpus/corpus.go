// Package corpus loads the chunk artifact produced by the documentation
// processing stage. The artifact is a JSON file carrying the embedding
// model name, the embedding dimension, and the chunk records; chatBIS
// only ever reads it. Chunk and embedding generation happen in a
// separate batch job.
//
// Loading is strict: the assistant is useless over a corrupt corpus, so
// a missing file, malformed JSON, a schema violation, or an embedding
// that does not match the declared dimension all fail the load. Startup
// is the only caller, and it treats these errors as fatal.
package corpus

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed corpus_schema.json
var schemaJSON string

// schema validates the structural shape of the artifact before the
// typed decode. Compiled once; MustCompileString panics only on a
// broken embedded schema, which cannot happen outside development.
var schema = jsonschema.MustCompileString("corpus_schema.json", schemaJSON)

// ErrSchemaMismatch reports chunks whose embeddings are missing or whose
// dimensionality disagrees with the rest of the corpus. Checked with
// errors.Is.
var ErrSchemaMismatch = errors.New("embedding schema mismatch")

// Chunk is a bounded span of documentation text with its precomputed
// embedding, the unit of retrieval. Immutable once loaded.
type Chunk struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// Corpus is the full processing artifact: provenance plus chunks.
type Corpus struct {
	// Model names the embedding model the batch job used. Queries must
	// be embedded with the same model for scores to be meaningful.
	Model string `json:"model"`

	// Dimension is the embedding dimensionality shared by every chunk.
	Dimension int `json:"dimension"`

	Chunks []Chunk `json:"chunks"`
}

// Load reads and validates the corpus artifact at path.
//
// Validation happens in two passes: the embedded JSON Schema rejects
// structurally malformed artifacts (missing keys, wrong types, empty
// chunk list), then every chunk embedding is checked against the
// declared dimension. Dimension violations wrap ErrSchemaMismatch.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corpus: parse %s: %w", path, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("corpus: validate %s: %w", path, err)
	}

	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("corpus: decode %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(c.Chunks))
	for _, ch := range c.Chunks {
		if _, dup := seen[ch.ID]; dup {
			return nil, fmt.Errorf("corpus: duplicate chunk id %q in %s", ch.ID, path)
		}
		seen[ch.ID] = struct{}{}

		if len(ch.Embedding) == 0 {
			return nil, fmt.Errorf("corpus: chunk %q has no embedding: %w", ch.ID, ErrSchemaMismatch)
		}
		if len(ch.Embedding) != c.Dimension {
			return nil, fmt.Errorf("corpus: chunk %q embedding dimension %d, corpus declares %d: %w",
				ch.ID, len(ch.Embedding), c.Dimension, ErrSchemaMismatch)
		}
	}

	return &c, nil
}
