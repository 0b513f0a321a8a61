package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	content := []byte("visionsuit gpu agent test payload")
	require.NoError(t, os.WriteFile(path, content, 0o640))

	want := sha256.Sum256(content)
	got, err := ComputeSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestComputeSHA256_MissingFile(t *testing.T) {
	_, err := ComputeSHA256(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
