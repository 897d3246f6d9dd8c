package domain

import (
	"context"
	"fmt"
	"time"
)

// ContentType classifies where an indexed chunk came from.
type ContentType string

const (
	ContentTypeTextFile       ContentType = "text_file"
	ContentTypeStructuredData ContentType = "structured_data"
	ContentTypeCompanyInfo    ContentType = "company_info"
)

// Valid reports whether the content type is one of the known values.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeTextFile, ContentTypeStructuredData, ContentTypeCompanyInfo:
		return true
	}
	return false
}

// ChunkMetadata describes the provenance of an indexed chunk.
type ChunkMetadata struct {
	Source      string      `json:"source"`
	Filename    string      `json:"filename"`
	ChunkIndex  int         `json:"chunk_index"`
	ContentType ContentType `json:"content_type"`
	IndexedAt   time.Time   `json:"indexed_at"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Validate checks the metadata at the ingestion boundary.
func (m ChunkMetadata) Validate() error {
	if m.Source == "" {
		return &Error{Kind: KindIngestion, Op: "metadata", Err: fmt.Errorf("empty source")}
	}
	if m.Filename == "" {
		return &Error{Kind: KindIngestion, Op: "metadata", Err: fmt.Errorf("empty filename for source %q", m.Source)}
	}
	if m.ChunkIndex < 0 {
		return &Error{Kind: KindIngestion, Op: "metadata", Err: fmt.Errorf("negative chunk index %d for source %q", m.ChunkIndex, m.Source)}
	}
	if !m.ContentType.Valid() {
		return &Error{Kind: KindIngestion, Op: "metadata", Err: fmt.Errorf("unknown content type %q for source %q", m.ContentType, m.Source)}
	}
	return nil
}

// Chunk is a semantically bounded segment of a source document.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkID builds the deterministic id for a chunk of a source.
// Re-ingesting the same source yields the same ids, which is what makes
// ingestion idempotent and source-level deletion possible.
func ChunkID(filename string, index int) string {
	return fmt.Sprintf("%s_%d", filename, index)
}

// SourceDocument is a canonical document held by the document store.
type SourceDocument struct {
	Filename string
	Content  string
	Type     ContentType
}

// SearchResult is one ranked hit from a similarity search.
// Relevance is derived as 1 - Distance (cosine-distance convention) and is
// never stored.
type SearchResult struct {
	Chunk     Chunk   `json:"chunk"`
	Distance  float64 `json:"distance"`
	Relevance float64 `json:"relevance_score"`
}

// Snapshot is the on-disk export format of a collection. The field names
// form the backup file contract and must round-trip exactly.
type Snapshot struct {
	Documents      []string        `json:"documents"`
	Metadatas      []ChunkMetadata `json:"metadatas"`
	IDs            []string        `json:"ids"`
	ExportedAt     time.Time       `json:"exported_at"`
	CollectionName string          `json:"collection_name"`
}

// Chunker splits raw text into overlapping, semantically bounded segments.
type Chunker interface {
	Chunk(text string) []string
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(text string) ([]float64, error)
}

// Generator produces text from a prompt plus optional context strings.
// It is an opaque, possibly failing remote call.
type Generator interface {
	Generate(ctx context.Context, prompt string, contextTexts []string) (string, error)
}
