// Package audioadapter is the default collab.AudioBackend implementation:
// an in-memory simulator that advances a position counter on a ticker and
// emits track_ended when it reaches the loaded track's declared duration.
// Real deployments substitute a GPIO/ALSA-backed implementation (out of
// scope per spec Non-goals). Grounded on the teacher's ticker-driven
// simulated-state pattern used in its supervised services survey
// (internal/supervisor/services/*.go), adapted from polling external state
// to simulating playback progress.
package audioadapter

import (
	"context"
	"sync"
	"time"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
)

const tickInterval = 100 * time.Millisecond

// Backend is a simulated collab.AudioBackend.
type Backend struct {
	mu         sync.Mutex
	filePath   string
	durationMs int
	positionMs int
	playing    bool
	volume     int
	closed     bool

	events chan collab.PlaybackEvent
	stop   chan struct{}
	once   sync.Once
}

// New creates a Backend and starts its simulation loop.
func New() *Backend {
	b := &Backend{
		events: make(chan collab.PlaybackEvent, 8),
		stop:   make(chan struct{}),
		volume: 100,
	}
	go b.loop()
	return b
}

func (b *Backend) loop() {
	defer close(b.events)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			if !b.playing || b.durationMs == 0 {
				b.mu.Unlock()
				continue
			}
			b.positionMs += int(tickInterval / time.Millisecond)
			ended := b.positionMs >= b.durationMs
			if ended {
				b.positionMs = b.durationMs
				b.playing = false
			}
			b.mu.Unlock()
			if ended {
				select {
				case b.events <- collab.PlaybackEvent{Type: "track_ended"}:
				default:
				}
			}
		}
	}
}

// Load sets the current track. Duration is not known from a bare file
// path in this simulator, so a track loaded through Load has duration 0
// and the simulator never auto-advances it (matches a track with unknown
// duration_ms=0, which Position/Seek still treat safely as clamp-to-0).
// internal/playback loads tracks through the collab.AudioBackend
// interface, which has only Load; LoadWithDuration is reached only by
// callers holding a *Backend directly.
func (b *Backend) Load(ctx context.Context, filePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filePath = filePath
	b.durationMs = 0
	b.positionMs = 0
	b.playing = false
	return nil
}

// LoadWithDuration is the same as Load but also seeds the simulated track
// length, letting the ticker loop emit track_ended realistically in tests
// and demos without a real decoder.
func (b *Backend) LoadWithDuration(ctx context.Context, filePath string, durationMs int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filePath = filePath
	b.durationMs = durationMs
	b.positionMs = 0
	b.playing = false
	return nil
}

func (b *Backend) Play(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = true
	return nil
}

func (b *Backend) Pause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = false
	return nil
}

func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = false
	b.positionMs = 0
	return nil
}

func (b *Backend) Seek(ctx context.Context, positionMs int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if positionMs < 0 {
		positionMs = 0
	}
	b.positionMs = positionMs
	return nil
}

func (b *Backend) SetVolume(ctx context.Context, volume int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = volume
	return nil
}

func (b *Backend) Position(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionMs, nil
}

func (b *Backend) Events() <-chan collab.PlaybackEvent { return b.events }

func (b *Backend) Close() error {
	b.once.Do(func() { close(b.stop) })
	return nil
}
