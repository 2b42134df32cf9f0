package playback

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

// ProgressInterval is the spec §4.9 track_position cadence (≤5 Hz).
const ProgressInterval = 200 * time.Millisecond

// maxRecentShuffle bounds the "avoid immediate repeats" set (spec §4.9).
const maxRecentShuffle = 16

// DefaultBackendCallTimeout bounds a single AudioBackend call (spec §5):
// the coordinator wraps backend calls in a timeout and surfaces a blocked
// call as a transient timeout error rather than hanging the command path.
const DefaultBackendCallTimeout = 2 * time.Second

// CircuitBreakerConfig mirrors the teacher's own config shape
// (eventprocessor/config.go CircuitBreakerConfig), reused here for the
// AudioBackend collaborator instead of event persistence.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultCircuitBreakerConfig mirrors the teacher's production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

func newBreaker(cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})
}

// Coordinator is the Playback Coordinator (C9).
type Coordinator struct {
	backend     collab.AudioBackend
	breaker     *gobreaker.CircuitBreaker[interface{}]
	callTimeout time.Duration
	repo        *library.Repository
	pub         *broadcast.Service

	mu            sync.Mutex
	state         State
	tracks        []library.Track
	recentShuffle []string
	lastOpID      string
}

// New creates a Coordinator with volume defaulted to 100 (unmuted, no
// repeat, no shuffle), per the PlayerState defaults implied by spec §3.
// callTimeout bounds every AudioBackend call (spec §5); zero falls back to
// DefaultBackendCallTimeout.
func New(backend collab.AudioBackend, repo *library.Repository, pub *broadcast.Service, callTimeout time.Duration) *Coordinator {
	if callTimeout <= 0 {
		callTimeout = DefaultBackendCallTimeout
	}
	return &Coordinator{
		backend:     backend,
		breaker:     newBreaker(DefaultCircuitBreakerConfig("audio-backend")),
		callTimeout: callTimeout,
		repo:        repo,
		pub:         pub,
		state:       State{Volume: 100, RepeatMode: RepeatNone},
	}
}

// execute runs fn through the circuit breaker with ctx bounded to
// callTimeout (spec §5). A call that blocks past the deadline is reported
// as a transient apperr.KindTimeout rather than hanging the caller.
func (c *Coordinator) execute(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn(cctx)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, "audio backend call timed out", err)
	}
	return err
}

// wrapBackendErr classifies a failed backend call for the caller, leaving
// an already-classified timeout (from execute) untouched rather than
// masking it as hardware_unavailable.
func wrapBackendErr(action string, err error) error {
	if apperr.KindOf(err) == apperr.KindTimeout {
		return err
	}
	return apperr.Wrap(apperr.KindHardwareUnavailable, action, err)
}

// ActivePlaylistID satisfies internal/nfc's PlaybackTrigger interface.
func (c *Coordinator) ActivePlaylistID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ActivePlaylistID
}

// IsPlaylistInUse satisfies internal/library's DeletePlaylist in_use check.
func (c *Coordinator) IsPlaylistInUse(playlistID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ActivePlaylistID == playlistID && c.state.IsPlaying
}

// LoadAndPlay satisfies internal/nfc's PlaybackTrigger interface: load from
// track 1 and start playing (spec §4.8, "Playback trigger").
func (c *Coordinator) LoadAndPlay(ctx context.Context, playlistID string) error {
	if _, err := c.LoadPlaylist(ctx, playlistID, 0); err != nil {
		return err
	}
	return c.Play(ctx)
}

// LoadPlaylist loads playlistID's tracks, sets the active track to
// startIndex, resets position_ms, and emits state:player (spec §4.9).
func (c *Coordinator) LoadPlaylist(ctx context.Context, playlistID string, startIndex int) (State, error) {
	p, err := c.repo.GetPlaylistByID(playlistID)
	if err != nil {
		return State{}, err
	}
	if startIndex < 0 || (len(p.Tracks) > 0 && startIndex >= len(p.Tracks)) {
		return State{}, apperr.Validation("start_index %d out of range", startIndex)
	}

	c.mu.Lock()
	c.tracks = p.Tracks
	c.recentShuffle = nil
	c.state.ActivePlaylistID = playlistID
	c.state.PositionMs = 0
	var trackID, filePath string
	if len(p.Tracks) > 0 {
		trackID = p.Tracks[startIndex].TrackID
		filePath = p.Tracks[startIndex].FilePath
	}
	c.state.ActiveTrackID = trackID
	c.mu.Unlock()

	if filePath != "" {
		if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Load(cctx, filePath) }); err != nil {
			return c.emitErr(ctx, "", wrapBackendErr("load track", err))
		}
	}
	return c.publishPlayerState(ctx), nil
}

func (c *Coordinator) currentTrack() (library.Track, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tracks {
		if t.TrackID == c.state.ActiveTrackID {
			return t, i, true
		}
	}
	return library.Track{}, -1, false
}

// Play starts or resumes playback.
func (c *Coordinator) Play(ctx context.Context) error {
	if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Play(cctx) }); err != nil {
		_, perr := c.emitErr(ctx, "", wrapBackendErr("play", err))
		return perr
	}
	c.mu.Lock()
	c.state.IsPlaying = true
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// Pause pauses playback.
func (c *Coordinator) Pause(ctx context.Context) error {
	if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Pause(cctx) }); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.IsPlaying = false
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// Toggle flips between Play and Pause based on current state.
func (c *Coordinator) Toggle(ctx context.Context) error {
	c.mu.Lock()
	playing := c.state.IsPlaying
	c.mu.Unlock()
	if playing {
		return c.Pause(ctx)
	}
	return c.Play(ctx)
}

// Stop halts playback and resets position to 0.
func (c *Coordinator) Stop(ctx context.Context) error {
	if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Stop(cctx) }); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.IsPlaying = false
	c.state.PositionMs = 0
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// Seek clamps positionMs to [0, current_track.duration_ms] (spec §4.9).
func (c *Coordinator) Seek(ctx context.Context, positionMs int) error {
	track, _, ok := c.currentTrack()
	if !ok {
		return apperr.Validation("no active track to seek")
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if positionMs > track.DurationMs {
		positionMs = track.DurationMs
	}
	if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Seek(cctx, positionMs) }); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.PositionMs = positionMs
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// SetVolume sets the backend volume, clamped to [0, 100].
func (c *Coordinator) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.SetVolume(cctx, volume) }); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.Volume = volume
	c.mu.Unlock()
	c.pub.Publish(ctx, events.DomainEvent{Type: events.TypeVolumeChanged, Data: map[string]int{"volume": volume}})
	return nil
}

// Mute/Unmute toggle the muted flag without changing the underlying volume.
func (c *Coordinator) Mute(ctx context.Context) error {
	c.mu.Lock()
	c.state.Muted = true
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

func (c *Coordinator) Unmute(ctx context.Context) error {
	c.mu.Lock()
	c.state.Muted = false
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// SetRepeatMode sets repeat_mode (spec §3 enum: none, one, all).
func (c *Coordinator) SetRepeatMode(ctx context.Context, mode RepeatMode) error {
	switch mode {
	case RepeatNone, RepeatOne, RepeatAll:
	default:
		return apperr.Validation("invalid repeat_mode %q", mode)
	}
	c.mu.Lock()
	c.state.RepeatMode = mode
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// SetShuffle toggles shuffle mode.
func (c *Coordinator) SetShuffle(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	c.state.Shuffle = enabled
	c.recentShuffle = nil
	c.mu.Unlock()
	c.publishPlayerState(ctx)
	return nil
}

// Next advances to the next track per repeat_mode/shuffle rules (spec §4.9).
func (c *Coordinator) Next(ctx context.Context) error {
	return c.advance(ctx, false)
}

// Previous moves to the preceding track (ignores shuffle: always sequential).
func (c *Coordinator) Previous(ctx context.Context) error {
	c.mu.Lock()
	_, idx, ok := c.indexOfActiveLocked()
	c.mu.Unlock()
	if !ok {
		return apperr.Validation("no active track")
	}
	prevIdx := idx - 1
	if prevIdx < 0 {
		c.mu.Lock()
		wrap := c.state.RepeatMode == RepeatAll
		c.mu.Unlock()
		if !wrap {
			return c.Stop(ctx)
		}
		prevIdx = len(c.tracks) - 1
	}
	return c.loadTrackAndPublish(ctx, prevIdx)
}

func (c *Coordinator) indexOfActiveLocked() (library.Track, int, bool) {
	for i, t := range c.tracks {
		if t.TrackID == c.state.ActiveTrackID {
			return t, i, true
		}
	}
	return library.Track{}, -1, false
}

// advance implements auto-advance and Next, sharing the repeat/shuffle
// decision tree described in spec §4.9.
func (c *Coordinator) advance(ctx context.Context, trackEnded bool) error {
	c.mu.Lock()
	repeatMode := c.state.RepeatMode
	shuffle := c.state.Shuffle
	_, idx, ok := c.indexOfActiveLocked()
	n := len(c.tracks)
	c.mu.Unlock()
	if !ok {
		return apperr.Validation("no active track")
	}

	if trackEnded && repeatMode == RepeatOne {
		return c.loadTrackAndPublish(ctx, idx)
	}

	if shuffle && n > 1 {
		nextIdx := c.pickShuffleIndex(idx, n)
		return c.loadTrackAndPublish(ctx, nextIdx)
	}

	nextIdx := idx + 1
	if nextIdx >= n {
		if repeatMode == RepeatAll {
			nextIdx = 0
		} else {
			c.mu.Lock()
			c.state.IsPlaying = false
			c.state.PositionMs = 0
			c.mu.Unlock()
			c.publishPlayerState(ctx)
			return nil
		}
	}
	return c.loadTrackAndPublish(ctx, nextIdx)
}

func (c *Coordinator) pickShuffleIndex(currentIdx, n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	excluded := map[string]bool{c.tracks[currentIdx].TrackID: true}
	for _, id := range c.recentShuffle {
		excluded[id] = true
	}
	candidates := make([]int, 0, n)
	for i, t := range c.tracks {
		if !excluded[t.TrackID] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		// Every other track was recently played; allow a repeat rather than stall.
		for i := range c.tracks {
			if i != currentIdx {
				candidates = append(candidates, i)
			}
		}
	}
	chosen := candidates[rand.Intn(len(candidates))]

	limit := n - 1
	if limit > maxRecentShuffle {
		limit = maxRecentShuffle
	}
	c.recentShuffle = append(c.recentShuffle, c.tracks[currentIdx].TrackID)
	if len(c.recentShuffle) > limit {
		c.recentShuffle = c.recentShuffle[len(c.recentShuffle)-limit:]
	}
	return chosen
}

func (c *Coordinator) loadTrackAndPublish(ctx context.Context, idx int) error {
	c.mu.Lock()
	track := c.tracks[idx]
	wasPlaying := c.state.IsPlaying
	c.state.ActiveTrackID = track.TrackID
	c.state.PositionMs = 0
	c.mu.Unlock()

	if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Load(cctx, track.FilePath) }); err != nil {
		_, perr := c.emitErr(ctx, "", wrapBackendErr("load track", err))
		return perr
	}
	if wasPlaying {
		if err := c.execute(ctx, func(cctx context.Context) error { return c.backend.Play(cctx) }); err != nil {
			_, perr := c.emitErr(ctx, "", wrapBackendErr("play", err))
			return perr
		}
	}
	c.publishPlayerState(ctx)
	return nil
}

// HandleBackendEvents consumes AudioBackend.Events() until ctx is
// cancelled, driving auto-advance on track_ended (spec §4.9).
func (c *Coordinator) HandleBackendEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.backend.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case "track_ended":
				if err := c.advance(ctx, true); err != nil {
					logging.Named("playback").Error().Err(err).Msg("auto-advance failed")
				}
			case "error":
				c.emitErr(ctx, "", apperr.New(apperr.KindHardwareUnavailable, ev.Message))
			}
		}
	}
}

// RunPositionBroadcaster emits state:track_position at ProgressInterval
// while playing, excluded from the Outbox's replay horizon (spec §4.3,
// §4.9). Intended to run as a supervised suture.Service.
func (c *Coordinator) RunPositionBroadcaster(ctx context.Context) error {
	ticker := time.NewTicker(ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.Lock()
			playing := c.state.IsPlaying
			trackID := c.state.ActiveTrackID
			c.mu.Unlock()
			if !playing || trackID == "" {
				continue
			}
			posMs, err := c.backend.Position(ctx)
			if err != nil {
				continue
			}
			track, _, ok := c.currentTrack()
			duration := 0
			if ok {
				duration = track.DurationMs
			}
			c.mu.Lock()
			c.state.PositionMs = posMs
			c.mu.Unlock()
			c.pub.Publish(ctx, events.DomainEvent{
				Type:       events.TypeTrackPosition,
				SkipOutbox: true,
				Data:       PositionUpdate{PositionMs: posMs, TrackID: trackID, IsPlaying: playing, DurationMs: duration},
			})
		}
	}
}

// Snapshot returns the current PlayerState without publishing an envelope,
// for use by internal/sync's snapshot-fallback path (spec §4.10).
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) publishPlayerState(ctx context.Context) State {
	c.mu.Lock()
	snap := c.state
	c.mu.Unlock()

	env, err := c.pub.Publish(ctx, events.DomainEvent{Type: events.TypePlayer, Data: snap})
	if err != nil {
		return snap
	}
	c.mu.Lock()
	c.state.GlobalSeq = env.GlobalSeq
	snap = c.state
	c.mu.Unlock()
	return snap
}

// emitErr publishes state:player with is_playing=false and, if clientOpID
// is non-empty, an err:op against it; the active track stays set to allow
// retry (spec §4.9, "Error handling").
func (c *Coordinator) emitErr(ctx context.Context, clientOpID string, cause error) (State, error) {
	c.mu.Lock()
	c.state.IsPlaying = false
	c.mu.Unlock()
	snap := c.publishPlayerState(ctx)
	if clientOpID != "" {
		c.pub.Publish(ctx, events.DomainEvent{
			Type:       events.TypeErrOp,
			ClientOpID: clientOpID,
			Data:       map[string]string{"client_op_id": clientOpID, "kind": string(apperr.KindOf(cause)), "message": cause.Error()},
		})
	}
	return snap, cause
}
