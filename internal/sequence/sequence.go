// Package sequence implements the Sequence Generator (C1): a single
// linearizable global_seq counter plus one playlist_seq counter per
// playlist, as specified in spec §4.1. Counters are atomics; one mutex
// guards the playlist-to-counter map and is held only for the map lookup,
// not for the increment.
package sequence

import (
	"sync"
	"sync/atomic"
)

// Generator issues monotonic sequence numbers for a single server generation.
type Generator struct {
	global atomic.Uint64

	mu        sync.Mutex
	playlists map[string]*atomic.Uint64
}

// New creates a Generator. startGlobal should be the maximum persisted
// global_seq observed at cold start (0 if none), per spec §4.1; NextGlobal
// will return startGlobal+1 on first call.
func New(startGlobal uint64) *Generator {
	g := &Generator{playlists: make(map[string]*atomic.Uint64)}
	g.global.Store(startGlobal)
	return g
}

// NextGlobal returns the next global_seq, strictly increasing across the
// server's lifetime.
func (g *Generator) NextGlobal() uint64 {
	return g.global.Add(1)
}

// SeedPlaylist primes a playlist's counter to a known starting value,
// typically the max persisted playlist_seq for that playlist found while
// scanning the outbox/library at cold start.
func (g *Generator) SeedPlaylist(playlistID string, start uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ctr, ok := g.playlists[playlistID]; ok {
		if start > ctr.Load() {
			ctr.Store(start)
		}
		return
	}
	ctr := &atomic.Uint64{}
	ctr.Store(start)
	g.playlists[playlistID] = ctr
}

// NextPlaylist returns the next playlist_seq for the given playlist.
func (g *Generator) NextPlaylist(playlistID string) uint64 {
	g.mu.Lock()
	ctr, ok := g.playlists[playlistID]
	if !ok {
		ctr = &atomic.Uint64{}
		g.playlists[playlistID] = ctr
	}
	g.mu.Unlock()
	return ctr.Add(1)
}

// CurrentGlobal returns the last issued global_seq without advancing it,
// used by join/leave acknowledgments (spec §4.4) to report the baseline.
func (g *Generator) CurrentGlobal() uint64 {
	return g.global.Load()
}

// CurrentPlaylist returns the last issued playlist_seq for a playlist
// without advancing it, or 0 if the playlist has never emitted an event.
func (g *Generator) CurrentPlaylist(playlistID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ctr, ok := g.playlists[playlistID]; ok {
		return ctr.Load()
	}
	return 0
}

// DropPlaylist removes a playlist's counter, e.g. after the playlist is deleted.
func (g *Generator) DropPlaylist(playlistID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.playlists, playlistID)
}
