// Package qdrant is a minimal REST engine backed by a Qdrant server. It
// assumes cosine distance and creates the collection if missing. Chunk text
// and metadata stay in the Index; only vectors cross this boundary.
package qdrant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"marketing-rag/internal/vectorindex"
)

// Qdrant only accepts unsigned integers or UUIDs as point ids, so chunk ids
// are mapped to deterministic UUIDv5 values. The original chunk id rides in
// the point payload and is read back on query.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

type Engine struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewEngine(cfg Config) *Engine {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Engine{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection if it does not exist. Qdrant returns 200 for
// an existing collection with the same schema.
func (e *Engine) Init(dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	e.dimension = dimension
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return e.putJSON(fmt.Sprintf("%s/collections/%s", e.url, e.collection), body)
}

func (e *Engine) Upsert(ids []string, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return errors.New("ids and vectors length mismatch")
	}
	points := make([]map[string]any, len(ids))
	for i := range ids {
		points[i] = map[string]any{
			"id":      pointID(ids[i]),
			"vector":  vectors[i],
			"payload": map[string]any{"chunk_id": ids[i]},
		}
	}
	body := map[string]any{"points": points}
	return e.putJSON(fmt.Sprintf("%s/collections/%s/points?wait=true", e.url, e.collection), body)
}

func (e *Engine) Query(vector []float64, limit int) ([]vectorindex.Match, error) {
	if limit <= 0 {
		limit = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload struct {
				ChunkID string `json:"chunk_id"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := e.postJSON(fmt.Sprintf("%s/collections/%s/points/search", e.url, e.collection), req, &resp); err != nil {
		return nil, err
	}
	matches := make([]vectorindex.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := r.Payload.ChunkID
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		// Qdrant reports cosine similarity; convert to the distance the
		// Index expects.
		matches = append(matches, vectorindex.Match{ID: id, Distance: 1 - r.Score})
	}
	return matches, nil
}

func (e *Engine) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = pointID(id)
	}
	body := map[string]any{"points": points}
	return e.postJSON(fmt.Sprintf("%s/collections/%s/points/delete?wait=true", e.url, e.collection), body, nil)
}

// Reset drops the collection; Init recreates it on the next ingestion.
func (e *Engine) Reset() error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/collections/%s", e.url, e.collection), nil)
	if err != nil {
		return err
	}
	if e.apiKey != "" {
		req.Header.Set("api-key", e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant DELETE collection failed: %s", resp.Status)
	}
	return nil
}

func (e *Engine) putJSON(url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("api-key", e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (e *Engine) postJSON(url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("api-key", e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
