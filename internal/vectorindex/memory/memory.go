// Package memory is an in-process vector engine using brute-force cosine
// distance. Collections are small (tens to low thousands of chunks), so a
// linear scan is the whole index.
package memory

import (
	"errors"
	"math"
	"sort"
	"sync"

	"marketing-rag/internal/vectorindex"
)

// Engine holds vectors in insertion order with an id lookup for upserts.
type Engine struct {
	mu        sync.RWMutex
	dimension int
	ids       []string
	vectors   [][]float64
	pos       map[string]int
}

func NewEngine() *Engine {
	return &Engine{pos: make(map[string]int)}
}

// Init fixes the vector dimension. Re-initialising with the same dimension
// is a no-op; a different dimension resets the engine.
func (e *Engine) Init(dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimension == dimension {
		return nil
	}
	e.dimension = dimension
	e.ids = nil
	e.vectors = nil
	e.pos = make(map[string]int)
	return nil
}

func (e *Engine) Upsert(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return errors.New("ids and vectors length mismatch")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, v := range vectors {
		if len(v) != e.dimension {
			return errors.New("vector dimension mismatch")
		}
		if at, ok := e.pos[ids[i]]; ok {
			e.vectors[at] = v
			continue
		}
		e.pos[ids[i]] = len(e.ids)
		e.ids = append(e.ids, ids[i])
		e.vectors = append(e.vectors, v)
	}
	return nil
}

func (e *Engine) Query(vector []float64, limit int) ([]vectorindex.Match, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}
	matches := make([]vectorindex.Match, len(e.ids))
	for i := range e.ids {
		matches[i] = vectorindex.Match{ID: e.ids[i], Distance: cosineDistance(e.vectors[i], vector)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if limit > len(matches) {
		limit = len(matches)
	}
	return matches[:limit], nil
}

func (e *Engine) Delete(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	keptIDs := e.ids[:0]
	keptVectors := e.vectors[:0]
	for i, id := range e.ids {
		if _, gone := drop[id]; gone {
			continue
		}
		keptIDs = append(keptIDs, id)
		keptVectors = append(keptVectors, e.vectors[i])
	}
	e.ids = keptIDs
	e.vectors = keptVectors
	e.pos = make(map[string]int, len(e.ids))
	for i, id := range e.ids {
		e.pos[id] = i
	}
	return nil
}

func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = nil
	e.vectors = nil
	e.pos = make(map[string]int)
	return nil
}

// cosineDistance is 1 - cosine similarity, clamped into [0, 2]. Vectors are
// not assumed normalised.
func cosineDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}
