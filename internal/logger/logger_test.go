package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lexbrief/internal/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexbrief.log")
	log, err := New(config.LogConfig{Level: "debug", FilePath: path, Production: true})
	require.NoError(t, err)

	log.Info("document processed", zap.String("doc_id", "abc"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"document processed"`)
	assert.Contains(t, string(data), `"doc_id":"abc"`)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOrGlobal(t *testing.T) {
	assert.Equal(t, zap.L(), OrGlobal(nil))
	l := zap.NewNop()
	assert.Same(t, l, OrGlobal(l))
}
