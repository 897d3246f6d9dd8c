package qdrant

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture records request bodies per method+path for later assertions.
type capture struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func newCaptureServer(t *testing.T, respond string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{bodies: make(map[string][]byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies[r.Method+" "+r.URL.Path] = body
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func (c *capture) body(t *testing.T, key string) []byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.bodies[key]
	require.True(t, ok, "no request captured for %s", key)
	return body
}

func TestPointIDIsDeterministicUUID(t *testing.T) {
	a := pointID("pricing.txt_0")
	b := pointID("pricing.txt_0")
	other := pointID("pricing.txt_1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestUpsertSendsUUIDPointIDsWithChunkPayload(t *testing.T) {
	srv, c := newCaptureServer(t, `{"status":"ok"}`)
	e := NewEngine(Config{URL: srv.URL, Collection: "kb"})

	require.NoError(t, e.Upsert([]string{"pricing.txt_0"}, [][]float64{{1, 0}}))

	var req struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float64      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(c.body(t, "PUT /collections/kb/points"), &req))
	require.Len(t, req.Points, 1)
	assert.Equal(t, pointID("pricing.txt_0"), req.Points[0].ID)
	assert.Equal(t, "pricing.txt_0", req.Points[0].Payload["chunk_id"])
}

func TestQueryMapsPayloadBackToChunkIDs(t *testing.T) {
	resp := `{"result":[
		{"id":"` + pointID("brand.txt_0") + `","score":0.9,"payload":{"chunk_id":"brand.txt_0"}},
		{"id":"` + pointID("brand.txt_1") + `","score":0.4,"payload":{"chunk_id":"brand.txt_1"}}
	]}`
	srv, _ := newCaptureServer(t, resp)
	e := NewEngine(Config{URL: srv.URL, Collection: "kb"})

	matches, err := e.Query([]float64{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "brand.txt_0", matches[0].ID)
	assert.InDelta(t, 0.1, matches[0].Distance, 1e-9)
	assert.Equal(t, "brand.txt_1", matches[1].ID)
	assert.InDelta(t, 0.6, matches[1].Distance, 1e-9)
}

func TestDeleteTranslatesIDs(t *testing.T) {
	srv, c := newCaptureServer(t, `{"status":"ok"}`)
	e := NewEngine(Config{URL: srv.URL, Collection: "kb"})

	require.NoError(t, e.Delete([]string{"pricing.txt_0", "pricing.txt_1"}))

	var req struct {
		Points []string `json:"points"`
	}
	require.NoError(t, json.Unmarshal(c.body(t, "POST /collections/kb/points/delete"), &req))
	assert.Equal(t, []string{pointID("pricing.txt_0"), pointID("pricing.txt_1")}, req.Points)
}
