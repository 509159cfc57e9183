package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	in := append([]byte{0xEF, 0xBB, 0xBF}, []byte("“Quoted” – it’s fine…")...)
	assert.Equal(t, `"Quoted" - it's fine...`, CleanText(in, "test"))

	invalid := []byte("ok \xff\xfe end")
	assert.Equal(t, "ok � end", CleanText(invalid, "test"))
}

func TestTrimBOM(t *testing.T) {
	assert.Equal(t, []byte("a,b"), TrimBOM([]byte("\xEF\xBB\xBFa,b")))
	assert.Equal(t, []byte("a,b"), TrimBOM([]byte("a,b")))
}

func TestIsLikelyBinary(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "a.csv")
	bin := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(text, []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, os.WriteFile(bin, []byte{'P', 'K', 0x03, 0x04, 0x00, 0x00}, 0o644))

	got, err := IsLikelyBinary(text)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = IsLikelyBinary(bin)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = IsLikelyBinary(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
