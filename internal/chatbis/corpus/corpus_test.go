package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeArtifact writes content to a temp file and returns its path.
func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestLoad_ValidArtifact(t *testing.T) {
	path := writeArtifact(t, `{
		"model": "nomic-embed-text",
		"dimension": 3,
		"chunks": [
			{"id": "c1", "title": "Spaces", "source_url": "https://openbis.ch/spaces", "text": "Spaces group projects.", "embedding": [1, 0, 0]},
			{"id": "c2", "title": "Samples", "source_url": "https://openbis.ch/samples", "text": "Samples hold data.", "embedding": [0, 1, 0]}
		]
	}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.Model != "nomic-embed-text" {
		t.Errorf("Model = %q, want nomic-embed-text", c.Model)
	}
	if c.Dimension != 3 {
		t.Errorf("Dimension = %d, want 3", c.Dimension)
	}
	if len(c.Chunks) != 2 {
		t.Fatalf("len(Chunks) = %d, want 2", len(c.Chunks))
	}
	if c.Chunks[0].ID != "c1" || c.Chunks[1].ID != "c2" {
		t.Errorf("chunk order not preserved: %q, %q", c.Chunks[0].ID, c.Chunks[1].ID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeArtifact(t, `{"model": "m", "dimension": 3, "chunks": [`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing dimension",
			content: `{"model": "m", "chunks": [{"id": "c1", "text": "t", "embedding": [1]}]}`,
		},
		{
			name:    "empty chunk list",
			content: `{"model": "m", "dimension": 3, "chunks": []}`,
		},
		{
			name:    "chunk without id",
			content: `{"model": "m", "dimension": 1, "chunks": [{"text": "t", "embedding": [1]}]}`,
		},
		{
			name:    "dimension zero",
			content: `{"model": "m", "dimension": 0, "chunks": [{"id": "c1", "text": "t", "embedding": []}]}`,
		},
		{
			name:    "embedding not numeric",
			content: `{"model": "m", "dimension": 1, "chunks": [{"id": "c1", "text": "t", "embedding": ["x"]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeArtifact(t, tt.content))
			if err == nil {
				t.Fatal("expected schema validation error")
			}
		})
	}
}

func TestLoad_DimensionMismatch(t *testing.T) {
	path := writeArtifact(t, `{
		"model": "m",
		"dimension": 3,
		"chunks": [
			{"id": "c1", "text": "t", "embedding": [1, 0, 0]},
			{"id": "c2", "text": "t", "embedding": [0, 1]}
		]
	}`)

	_, err := Load(path)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestLoad_DuplicateChunkID(t *testing.T) {
	path := writeArtifact(t, `{
		"model": "m",
		"dimension": 1,
		"chunks": [
			{"id": "c1", "text": "a", "embedding": [1]},
			{"id": "c1", "text": "b", "embedding": [2]}
		]
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for duplicate chunk ids")
	}
}
