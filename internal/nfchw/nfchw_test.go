package nfchw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectsTagFileCreation(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	require.NoError(t, err)
	defer a.Close()

	require.True(t, a.Available())

	tagPath := filepath.Join(dir, "04AABBCCDD")
	require.NoError(t, os.WriteFile(tagPath, []byte{}, 0o644))

	select {
	case tag := <-a.Detections():
		require.Equal(t, "04AABBCCDD", tag)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tag detection")
	}
}

func TestDetectsTagRemoval(t *testing.T) {
	dir := t.TempDir()
	tagPath := filepath.Join(dir, "04AABBCCDD")
	require.NoError(t, os.WriteFile(tagPath, []byte{}, 0o644))

	a, err := New(dir)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, os.Remove(tagPath))

	select {
	case <-a.Removals():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tag removal")
	}
}
