package outputs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSaveListRecent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outputs")
	s := New(dir, zaptest.NewLogger(t))

	assert.Zero(t, s.Count())
	assert.Nil(t, s.Recent(5))

	require.NoError(t, s.SaveText("20240101_000000_answer.txt", "first"))
	require.NoError(t, s.SaveText("20240102_000000_answer.txt", "second"))
	require.NoError(t, s.SaveJSON("20240103_000000_meta.json", map[string]int{"n": 1}))

	assert.Equal(t, 3, s.Count())
	assert.Equal(t, []string{"20240102_000000_answer.txt", "20240103_000000_meta.json"}, s.Recent(2))
	assert.Len(t, s.Recent(10), 3)

	data, err := os.ReadFile(filepath.Join(dir, "20240103_000000_meta.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"n\": 1")
}

func TestSaveRejectsInvalidNames(t *testing.T) {
	s := New(t.TempDir(), zaptest.NewLogger(t))
	assert.Error(t, s.SaveText("", "x"))
	assert.Error(t, s.SaveText("../escape.txt", "x"))
}
