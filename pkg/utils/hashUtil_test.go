package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFileMatchesHashBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build_0.log")
	require.NoError(t, os.WriteFile(path, []byte("go build ./...\n"), 0o644))

	got, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("go build ./...\n")), got)

	fromReader, err := HashReader(strings.NewReader("go build ./...\n"))
	require.NoError(t, err)
	assert.Equal(t, got, fromReader)
}

func TestHashBytesEmpty(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
}
