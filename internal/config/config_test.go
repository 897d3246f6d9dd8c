package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketing-rag/internal/domain"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "knowledge_base", cfg.KnowledgeDir)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.Overlap)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "memory", cfg.Engine.Type)
	assert.Equal(t, "index_snapshot.json", cfg.SnapshotPath)
	assert.Equal(t, 5, cfg.Search.AnswerResults)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
knowledge_dir: docs
chunker:
  chunk_size: 400
  overlap: 40
engine:
  type: qdrant
  qdrant:
    url: http://localhost:6333
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "docs", cfg.KnowledgeDir)
	assert.Equal(t, 400, cfg.Chunker.ChunkSize)
	assert.Equal(t, "qdrant", cfg.Engine.Type)
	// Untouched fields keep their defaults.
	assert.Equal(t, "outputs", cfg.OutputsDir)
	assert.Equal(t, "marketing_knowledge", cfg.Collection)
}

func TestLoadRejectsInvalidOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
chunker:
  chunk_size: 100
  overlap: 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))
}

func TestLoadRejectsQdrantWithoutURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  type: qdrant\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Collection = "campaign_kb"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "campaign_kb", loaded.Collection)
	assert.Equal(t, cfg.Chunker, loaded.Chunker)
}
