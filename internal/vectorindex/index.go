// Package vectorindex owns the embedding-indexed derivative of the knowledge
// base: chunks plus metadata, deduplicated by id, searchable with metadata
// filters, exportable as point-in-time snapshots. Similarity itself is
// delegated to a pluggable Engine.
package vectorindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketing-rag/internal/domain"
)

// Options configures an Index.
type Options struct {
	Collection string
	BackupsDir string
}

// Index is safe for one writer and many concurrent readers. Ingestion
// failures are loud (typed errors); retrieval failures are soft (logged,
// empty results), because callers treat "no relevant context" as a normal
// case.
type Index struct {
	mu       sync.RWMutex
	engine   Engine
	embedder domain.Embedder
	log      *zap.Logger

	collection string
	backupsDir string

	dimension int // 0 until the engine is initialised
	entries   map[string]*entry
	order     []string // insertion order, for deterministic exports
	sources   map[string]int
	types     map[domain.ContentType]int
}

type entry struct {
	text string
	meta domain.ChunkMetadata
}

// Info is the cheap, aggregated view of the collection.
type Info struct {
	DocumentCount int            `json:"document_count"`
	UniqueSources int            `json:"unique_sources"`
	ContentTypes  map[string]int `json:"content_types"`
	BackupCount   int            `json:"backup_count"`
}

func New(engine Engine, embedder domain.Embedder, opts Options, log *zap.Logger) *Index {
	if opts.Collection == "" {
		opts.Collection = "marketing_knowledge"
	}
	return &Index{
		engine:     engine,
		embedder:   embedder,
		log:        log,
		collection: opts.Collection,
		backupsDir: opts.BackupsDir,
		entries:    make(map[string]*entry),
		sources:    make(map[string]int),
		types:      make(map[domain.ContentType]int),
	}
}

// Collection returns the collection name used in snapshots.
func (i *Index) Collection() string { return i.collection }

// Prepare forwards the corpus to embedders that need a fitting phase. It
// takes the write lock: a vocabulary refit mutates embedder state that
// concurrent searches read through Embed.
func (i *Index) Prepare(corpus []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.embedder.Prepare(corpus); err != nil {
		return domain.Errf(domain.KindIngestion, "index.prepare", "prepare embedder: %v", err)
	}
	return nil
}

// Add inserts the subset of ids not already present. Duplicate ids are
// silently skipped so re-runs of ingestion are idempotent. Every inserted
// record is stamped with a fresh last_updated timestamp.
func (i *Index) Add(texts []string, metas []domain.ChunkMetadata, ids []string) error {
	if len(texts) != len(metas) || len(texts) != len(ids) {
		return domain.Errf(domain.KindIngestion, "index.add",
			"length mismatch: %d texts, %d metadatas, %d ids", len(texts), len(metas), len(ids))
	}
	for _, m := range metas {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var newTexts []string
	var newMetas []domain.ChunkMetadata
	var newIDs []string
	skipped := 0
	seen := make(map[string]struct{}, len(ids))
	for n, id := range ids {
		if _, dup := i.entries[id]; dup {
			skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			skipped++
			continue
		}
		seen[id] = struct{}{}
		newTexts = append(newTexts, texts[n])
		newMetas = append(newMetas, metas[n])
		newIDs = append(newIDs, id)
	}
	if skipped > 0 {
		i.log.Debug("skipped duplicate ids", zap.Int("count", skipped))
	}
	if len(newIDs) == 0 {
		// Nothing unseen; still reconcile the engine in case the embedder
		// was re-prepared to a different dimensionality.
		if dim := i.embedder.Dimension(); dim > 0 && i.dimension > 0 && dim != i.dimension {
			return i.reindexLocked(dim)
		}
		return nil
	}

	vectors := make([][]float64, len(newTexts))
	for n, text := range newTexts {
		vec, err := i.embedder.Embed(text)
		if err != nil {
			return domain.Errf(domain.KindIngestion, "index.add", "embed chunk %s: %v", newIDs[n], err)
		}
		vectors[n] = vec
	}

	dim := len(vectors[0])
	if i.dimension != 0 && dim != i.dimension {
		if err := i.reindexLocked(dim); err != nil {
			return err
		}
	} else if i.dimension == 0 {
		if err := i.engine.Init(dim); err != nil {
			return domain.Errf(domain.KindIngestion, "index.add", "init engine: %v", err)
		}
		i.dimension = dim
	}

	if err := i.engine.Upsert(newIDs, vectors); err != nil {
		return domain.Errf(domain.KindIngestion, "index.add", "upsert vectors: %v", err)
	}

	now := time.Now().UTC()
	for n, id := range newIDs {
		meta := newMetas[n]
		if meta.IndexedAt.IsZero() {
			meta.IndexedAt = now
		}
		meta.LastUpdated = now
		i.entries[id] = &entry{text: newTexts[n], meta: meta}
		i.order = append(i.order, id)
		i.sources[meta.Source]++
		i.types[meta.ContentType]++
	}
	i.log.Info("indexed chunks",
		zap.Int("inserted", len(newIDs)),
		zap.Int("skipped_duplicates", skipped),
		zap.Int("total", len(i.entries)))
	return nil
}

// reindexLocked re-embeds every stored chunk after the embedder's
// dimensionality changed (e.g. a TF-IDF vocabulary refit). Caller holds the
// write lock.
func (i *Index) reindexLocked(dim int) error {
	if err := i.engine.Reset(); err != nil {
		return domain.Errf(domain.KindIngestion, "index.reindex", "reset engine: %v", err)
	}
	if err := i.engine.Init(dim); err != nil {
		return domain.Errf(domain.KindIngestion, "index.reindex", "init engine: %v", err)
	}
	i.dimension = dim
	if len(i.order) == 0 {
		return nil
	}
	ids := make([]string, 0, len(i.order))
	vectors := make([][]float64, 0, len(i.order))
	for _, id := range i.order {
		vec, err := i.embedder.Embed(i.entries[id].text)
		if err != nil {
			return domain.Errf(domain.KindIngestion, "index.reindex", "re-embed chunk %s: %v", id, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	if err := i.engine.Upsert(ids, vectors); err != nil {
		return domain.Errf(domain.KindIngestion, "index.reindex", "upsert vectors: %v", err)
	}
	i.log.Info("reindexed collection after dimension change", zap.Int("dimension", dim), zap.Int("chunks", len(ids)))
	return nil
}

// Search returns at most n results ranked by relevance descending, ties in
// engine order. Filters map metadata keys to a scalar (exact match) or a
// slice (membership). Internal failures degrade to an empty result set.
func (i *Index) Search(query string, n int, filters map[string]any) []domain.SearchResult {
	if n <= 0 {
		n = 5
	}
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.entries) == 0 || i.dimension == 0 {
		return nil
	}
	vec, err := i.embedder.Embed(query)
	if err != nil {
		i.log.Warn("query embedding failed, returning no results", zap.Error(err))
		return nil
	}
	limit := n
	if len(filters) > 0 {
		// Filtering happens after the engine ranks, so fetch everything to
		// guarantee n survivors when they exist.
		limit = len(i.entries)
	}
	matches, err := i.engine.Query(vec, limit)
	if err != nil {
		i.log.Warn("engine query failed, returning no results", zap.Error(err))
		return nil
	}

	results := make([]domain.SearchResult, 0, n)
	for _, m := range matches {
		ent, ok := i.entries[m.ID]
		if !ok {
			continue
		}
		if !matchesFilters(ent.meta, filters) {
			continue
		}
		relevance := 1 - m.Distance
		if relevance < 0 {
			relevance = 0
		}
		results = append(results, domain.SearchResult{
			Chunk:     domain.Chunk{ID: m.ID, Text: ent.text, Metadata: ent.meta},
			Distance:  m.Distance,
			Relevance: relevance,
		})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Relevance > results[b].Relevance })
	if len(results) > n {
		results = results[:n]
	}
	return results
}

// Update replaces text and metadata for an existing id in place.
func (i *Index) Update(id, text string, meta domain.ChunkMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	old, ok := i.entries[id]
	if !ok {
		return domain.Errf(domain.KindIngestion, "index.update", "unknown id %q", id)
	}
	vec, err := i.embedder.Embed(text)
	if err != nil {
		return domain.Errf(domain.KindIngestion, "index.update", "embed chunk %s: %v", id, err)
	}
	if err := i.engine.Upsert([]string{id}, [][]float64{vec}); err != nil {
		return domain.Errf(domain.KindIngestion, "index.update", "upsert vector: %v", err)
	}
	if meta.IndexedAt.IsZero() {
		meta.IndexedAt = old.meta.IndexedAt
	}
	meta.LastUpdated = time.Now().UTC()

	i.decrementTallies(old.meta)
	i.sources[meta.Source]++
	i.types[meta.ContentType]++
	i.entries[id] = &entry{text: text, meta: meta}
	return nil
}

// Delete removes the given ids. Unknown ids are ignored.
func (i *Index) Delete(ids []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.deleteLocked(ids)
}

// DeleteBySource removes every entry whose metadata source equals source,
// atomically with respect to concurrent reads. Returns the number removed.
func (i *Index) DeleteBySource(source string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var ids []string
	for _, id := range i.order {
		if i.entries[id].meta.Source == source {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := i.deleteLocked(ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (i *Index) deleteLocked(ids []string) error {
	var present []string
	for _, id := range ids {
		if _, ok := i.entries[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := i.engine.Delete(present); err != nil {
		return domain.Errf(domain.KindIngestion, "index.delete", "delete vectors: %v", err)
	}
	drop := make(map[string]struct{}, len(present))
	for _, id := range present {
		drop[id] = struct{}{}
		i.decrementTallies(i.entries[id].meta)
		delete(i.entries, id)
	}
	kept := i.order[:0]
	for _, id := range i.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	i.order = kept
	i.log.Info("deleted chunks", zap.Int("count", len(present)), zap.Int("remaining", len(i.entries)))
	return nil
}

func (i *Index) decrementTallies(meta domain.ChunkMetadata) {
	if i.sources[meta.Source]--; i.sources[meta.Source] <= 0 {
		delete(i.sources, meta.Source)
	}
	if i.types[meta.ContentType]--; i.types[meta.ContentType] <= 0 {
		delete(i.types, meta.ContentType)
	}
}

// Snapshot returns the current collection as an in-memory snapshot, in
// insertion order.
func (i *Index) Snapshot() domain.Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	snap := domain.Snapshot{
		Documents:      make([]string, 0, len(i.order)),
		Metadatas:      make([]domain.ChunkMetadata, 0, len(i.order)),
		IDs:            make([]string, 0, len(i.order)),
		ExportedAt:     time.Now().UTC(),
		CollectionName: i.collection,
	}
	for _, id := range i.order {
		ent := i.entries[id]
		snap.Documents = append(snap.Documents, ent.text)
		snap.Metadatas = append(snap.Metadatas, ent.meta)
		snap.IDs = append(snap.IDs, id)
	}
	return snap
}

// Export writes a full point-in-time snapshot to path.
func (i *Index) Export(path string) error {
	snap := i.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return domain.Errf(domain.KindIngestion, "index.export", "encode snapshot: %v", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.Errf(domain.KindIngestion, "index.export", "create export dir: %v", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.Errf(domain.KindIngestion, "index.export", "write snapshot: %v", err)
	}
	i.log.Info("exported collection", zap.String("path", path), zap.Int("chunks", len(snap.IDs)))
	return nil
}

// ReadSnapshot reads and validates a snapshot file.
func ReadSnapshot(path string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, domain.Errf(domain.KindIngestion, "index.import", "read snapshot: %v", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, domain.Errf(domain.KindIngestion, "index.import", "decode snapshot: %v", err)
	}
	if len(snap.Documents) != len(snap.Metadatas) || len(snap.Documents) != len(snap.IDs) {
		return snap, domain.Errf(domain.KindIngestion, "index.import",
			"corrupt snapshot: %d documents, %d metadatas, %d ids", len(snap.Documents), len(snap.Metadatas), len(snap.IDs))
	}
	return snap, nil
}

// Import loads a snapshot through the same dedup path as Add, so importing
// into a non-empty collection skips ids already present.
func (i *Index) Import(path string) error {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return err
	}
	return i.Add(snap.Documents, snap.Metadatas, snap.IDs)
}

// CreateBackup exports to a timestamped file under the backups directory.
// A colliding name gets a random suffix; prior backups are never overwritten.
func (i *Index) CreateBackup() (string, error) {
	if i.backupsDir == "" {
		return "", domain.Errf(domain.KindConfig, "index.backup", "backups directory not configured")
	}
	if err := os.MkdirAll(i.backupsDir, 0o755); err != nil {
		return "", domain.Errf(domain.KindIngestion, "index.backup", "create backups dir: %v", err)
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	path := filepath.Join(i.backupsDir, "backup_"+i.collection+"_"+stamp+".json")
	if _, err := os.Stat(path); err == nil {
		suffix := strings.Split(uuid.NewString(), "-")[0]
		path = filepath.Join(i.backupsDir, "backup_"+i.collection+"_"+stamp+"_"+suffix+".json")
	}
	if err := i.Export(path); err != nil {
		return "", err
	}
	return path, nil
}

// Count returns the number of indexed chunks.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Info returns aggregated statistics. Tallies are maintained incrementally,
// so this is cheap enough for every status check.
func (i *Index) Info() Info {
	i.mu.RLock()
	info := Info{
		DocumentCount: len(i.entries),
		UniqueSources: len(i.sources),
		ContentTypes:  make(map[string]int, len(i.types)),
	}
	for t, n := range i.types {
		info.ContentTypes[string(t)] = n
	}
	i.mu.RUnlock()

	if i.backupsDir != "" {
		entries, err := os.ReadDir(i.backupsDir)
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
					info.BackupCount++
				}
			}
		}
	}
	return info
}

// matchesFilters applies scalar equality or slice membership per key.
// Unknown keys never match, which keeps a typo from silently widening a
// query.
func matchesFilters(meta domain.ChunkMetadata, filters map[string]any) bool {
	for key, want := range filters {
		field, ok := fieldValue(meta, key)
		if !ok || !matchValue(field, want) {
			return false
		}
	}
	return true
}

func fieldValue(meta domain.ChunkMetadata, key string) (any, bool) {
	switch key {
	case "source":
		return meta.Source, true
	case "filename":
		return meta.Filename, true
	case "content_type":
		return string(meta.ContentType), true
	case "chunk_index":
		return meta.ChunkIndex, true
	}
	return nil, false
}

func matchValue(field, want any) bool {
	switch w := want.(type) {
	case []any:
		for _, item := range w {
			if matchValue(field, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range w {
			if matchValue(field, item) {
				return true
			}
		}
		return false
	case []int:
		for _, item := range w {
			if matchValue(field, item) {
				return true
			}
		}
		return false
	}
	return scalarEqual(field, want)
}

func scalarEqual(field, want any) bool {
	switch f := field.(type) {
	case string:
		switch w := want.(type) {
		case string:
			return f == w
		case domain.ContentType:
			return f == string(w)
		}
	case int:
		switch w := want.(type) {
		case int:
			return f == w
		case float64: // JSON-decoded numbers arrive as float64
			return float64(f) == w
		}
	}
	return false
}
