package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "playlists", "p1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Put(ctx, "playlists", "p1", []byte("hello")))

	val, found, err := s.Get(ctx, "playlists", "p1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), val)

	require.NoError(t, s.Delete(ctx, "playlists", "p1"))
	_, found, err = s.Get(ctx, "playlists", "p1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestScanOrdersByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "tracks", "b", []byte("2")))
	require.NoError(t, s.Put(ctx, "tracks", "a", []byte("1")))
	require.NoError(t, s.Put(ctx, "tracks", "c", []byte("3")))

	var keys []string
	require.NoError(t, s.Scan(ctx, "tracks", func(key string, value []byte) bool {
		keys = append(keys, key)
		return true
	}))
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestScanStopsEarly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "tracks", "a", []byte("1")))
	require.NoError(t, s.Put(ctx, "tracks", "b", []byte("2")))

	var seen int
	require.NoError(t, s.Scan(ctx, "tracks", func(key string, value []byte) bool {
		seen++
		return false
	}))
	require.Equal(t, 1, seen)
}

func TestCompareAndSwapUniqueClaimsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, heldBy, err := s.CompareAndSwapUnique(ctx, "nfc_tag", "tag-1", "playlist-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "playlist-a", heldBy)

	ok, heldBy, err = s.CompareAndSwapUnique(ctx, "nfc_tag", "tag-1", "playlist-b")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "playlist-a", heldBy)

	ok, heldBy, err = s.CompareAndSwapUnique(ctx, "nfc_tag", "tag-1", "playlist-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "playlist-a", heldBy)
}

func TestReleaseUniqueAllowsReclaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.CompareAndSwapUnique(ctx, "nfc_tag", "tag-1", "playlist-a")
	require.NoError(t, err)

	require.NoError(t, s.ReleaseUnique(ctx, "nfc_tag", "tag-1"))
	require.NoError(t, s.ReleaseUnique(ctx, "nfc_tag", "tag-1"))

	ok, heldBy, err := s.CompareAndSwapUnique(ctx, "nfc_tag", "tag-1", "playlist-b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "playlist-b", heldBy)
}
