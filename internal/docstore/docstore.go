// Package docstore manages the canonical source documents on disk. It is
// purely durable text storage with a directory-as-namespace model; chunking
// and indexing live elsewhere.
package docstore

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"marketing-rag/internal/domain"
)

// Store keeps source documents as plain files under the knowledge directory.
// The filename is the stable source key used throughout chunk metadata.
type Store struct {
	dir string
	log *zap.Logger
}

// New creates a store rooted at dir. The directory is created on first Add.
func New(dir string, log *zap.Logger) *Store {
	return &Store{dir: dir, log: log}
}

// Dir returns the knowledge directory path.
func (s *Store) Dir() string { return s.dir }

func recognized(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// LoadAll reads every recognized file in the knowledge directory. A file
// that cannot be read is logged and skipped; it never aborts the load.
func (s *Store) LoadAll() []domain.SourceDocument {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read knowledge directory", zap.String("dir", s.dir), zap.Error(err))
		}
		return nil
	}
	var docs []domain.SourceDocument
	for _, e := range entries {
		if e.IsDir() || !recognized(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn("skipping unreadable document", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		docs = append(docs, domain.SourceDocument{
			Filename: e.Name(),
			Content:  string(data),
			Type:     domain.ContentTypeTextFile,
		})
	}
	return docs
}

// Add writes content under filename. Overwriting an existing file is an
// idempotent put, not an error.
func (s *Store) Add(filename, content string) error {
	if filename == "" || filename != filepath.Base(filename) {
		return domain.Errf(domain.KindIngestion, "docstore.add", "invalid filename %q", filename)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.Errf(domain.KindIngestion, "docstore.add", "create knowledge dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, filename), []byte(content), 0o644); err != nil {
		return domain.Errf(domain.KindIngestion, "docstore.add", "write %s: %v", filename, err)
	}
	s.log.Info("stored document", zap.String("file", filename), zap.Int("bytes", len(content)))
	return nil
}

// Remove deletes the named document. Removing a missing file is an error.
func (s *Store) Remove(filename string) error {
	if filename == "" || filename != filepath.Base(filename) {
		return domain.Errf(domain.KindIngestion, "docstore.remove", "invalid filename %q", filename)
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil {
		return domain.Errf(domain.KindIngestion, "docstore.remove", "remove %s: %v", filename, err)
	}
	s.log.Info("removed document", zap.String("file", filename))
	return nil
}

// Count returns the number of recognized documents currently stored.
func (s *Store) Count() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && recognized(e.Name()) {
			n++
		}
	}
	return n
}
