// Package outputs is the durable sink for generated artifacts: answers,
// marketing content and report metadata land here as flat files.
package outputs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"marketing-rag/internal/domain"
)

type Sink struct {
	dir string
	log *zap.Logger
}

func New(dir string, log *zap.Logger) *Sink {
	return &Sink{dir: dir, log: log}
}

// Dir returns the outputs directory path.
func (s *Sink) Dir() string { return s.dir }

// SaveText writes a text artifact under name.
func (s *Sink) SaveText(name, content string) error {
	return s.write(name, []byte(content))
}

// SaveJSON writes v as indented JSON under name.
func (s *Sink) SaveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.Errf(domain.KindIngestion, "outputs.save", "encode %s: %v", name, err)
	}
	return s.write(name, data)
}

func (s *Sink) write(name string, data []byte) error {
	if name == "" || name != filepath.Base(name) {
		return domain.Errf(domain.KindIngestion, "outputs.save", "invalid output name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.Errf(domain.KindIngestion, "outputs.save", "create outputs dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return domain.Errf(domain.KindIngestion, "outputs.save", "write %s: %v", name, err)
	}
	s.log.Info("saved output", zap.String("file", name), zap.Int("bytes", len(data)))
	return nil
}

// List returns all output names sorted lexicographically, which for the
// timestamped names used by the coordinator is also chronological.
func (s *Sink) List() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Recent returns the newest n output names.
func (s *Sink) Recent(n int) []string {
	names := s.List()
	if n <= 0 || len(names) == 0 {
		return nil
	}
	if n > len(names) {
		n = len(names)
	}
	return names[len(names)-n:]
}

// Count returns the number of stored outputs.
func (s *Sink) Count() int {
	return len(s.List())
}
