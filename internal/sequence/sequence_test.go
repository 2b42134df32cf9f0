package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextGlobalStrictlyIncreasing(t *testing.T) {
	g := New(0)
	seen := make(map[uint64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := g.NextGlobal()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 200)
	for i := uint64(1); i <= 200; i++ {
		require.True(t, seen[i], "missing seq %d", i)
	}
}

func TestNextPlaylistIndependentPerPlaylist(t *testing.T) {
	g := New(0)
	require.Equal(t, uint64(1), g.NextPlaylist("a"))
	require.Equal(t, uint64(2), g.NextPlaylist("a"))
	require.Equal(t, uint64(1), g.NextPlaylist("b"))
}

func TestSeedPlaylistResumesFromMax(t *testing.T) {
	g := New(0)
	g.SeedPlaylist("a", 10)
	require.Equal(t, uint64(11), g.NextPlaylist("a"))
	// Seeding lower than current never regresses the counter.
	g.SeedPlaylist("a", 3)
	require.Equal(t, uint64(12), g.NextPlaylist("a"))
}

func TestColdStartResumesFromMaxPlusOne(t *testing.T) {
	g := New(42)
	require.Equal(t, uint64(43), g.NextGlobal())
}
