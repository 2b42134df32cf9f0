// Package nfc implements the NFC State Machine (C8): a singleton reader
// loop that debounces tag detections from the hardware adapter, an
// AssociationSession state machine for pairing a tag to a playlist, and a
// playback-trigger path that resolves a detected tag to a playlist via the
// Repository when no association is in progress (spec §4.8). It is
// grounded on the teacher's supervised-service pattern
// (internal/supervisor/services/websocket_service.go) for the reader loop's
// run-until-context-cancelled shape, adapted from managing a websocket
// server to draining a hardware adapter's detection channel.
package nfc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/config"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

// State is the AssociationSession lifecycle (spec §4.8 diagram).
type State string

const (
	StateListening         State = "listening"
	StateDuplicateDetected State = "duplicate_detected"
	StateCompleted         State = "completed"
	StateCancelled         State = "cancelled"
	StateTimedOut          State = "timed_out"
	StateError             State = "error"
)

// DefaultDebounce is the reader-loop debounce window (spec §4.8) used when
// no config.NFCConfig is supplied.
const DefaultDebounce = 500 * time.Millisecond

// DefaultAssociationTimeoutMs and MaxAssociationTimeoutMs are the spec §5
// fallbacks: association sessions time out after the caller-supplied
// timeout_ms, default 60s, capped at 300s.
const (
	DefaultAssociationTimeoutMs = 60_000
	MaxAssociationTimeoutMs     = 300_000
)

// Session is the AssociationSession aggregate from spec §3.
type Session struct {
	AssociationID         string    `json:"association_id"`
	PlaylistID            string    `json:"playlist_id"`
	State                 State     `json:"state"`
	ObservedTagID         string    `json:"observed_tag_id,omitempty"`
	ConflictingPlaylistID string    `json:"conflicting_playlist_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	TimeoutAt             time.Time `json:"timeout_at"`
}

// PlaybackTrigger is the dependency the Playback Coordinator satisfies:
// instructing it to load and play a resolved playlist from track 1 (spec
// §4.8, "Playback trigger").
type PlaybackTrigger interface {
	LoadAndPlay(ctx context.Context, playlistID string) error
	ActivePlaylistID() string
}

// Machine is the NFC State Machine (C8).
type Machine struct {
	hw       collab.NfcHardwareAdapter
	repo     *library.Repository
	pub      *broadcast.Service
	playback PlaybackTrigger
	debounce time.Duration

	defaultTimeoutMs int
	maxTimeoutMs     int

	mu      sync.Mutex
	active  *Session
	timer   *time.Timer
	lastTag string
	lastAt  time.Time
}

// New creates a Machine from cfg's debounce/default-timeout/max-timeout
// (spec §4.8, §5). playback may be nil if wired later via
// SetPlaybackTrigger. Zero-valued fields in cfg fall back to the package
// defaults, so callers in tests may pass a zero config.NFCConfig.
func New(hw collab.NfcHardwareAdapter, repo *library.Repository, pub *broadcast.Service, playback PlaybackTrigger, cfg config.NFCConfig) *Machine {
	debounce := DefaultDebounce
	if cfg.DebounceMs > 0 {
		debounce = time.Duration(cfg.DebounceMs) * time.Millisecond
	}
	defaultTimeoutMs := cfg.DefaultTimeoutMs
	if defaultTimeoutMs <= 0 {
		defaultTimeoutMs = DefaultAssociationTimeoutMs
	}
	maxTimeoutMs := cfg.MaxTimeoutMs
	if maxTimeoutMs <= 0 {
		maxTimeoutMs = MaxAssociationTimeoutMs
	}
	return &Machine{
		hw:               hw,
		repo:             repo,
		pub:              pub,
		playback:         playback,
		debounce:         debounce,
		defaultTimeoutMs: defaultTimeoutMs,
		maxTimeoutMs:     maxTimeoutMs,
	}
}

// resolveTimeoutMs applies the spec §5 default/cap invariant to a
// caller-supplied timeout_ms, so every caller (HTTP and WebSocket) obeys it
// regardless of whether an upstream validator already bounded it.
func (m *Machine) resolveTimeoutMs(timeoutMs int) int {
	if timeoutMs <= 0 {
		timeoutMs = m.defaultTimeoutMs
	}
	if timeoutMs > m.maxTimeoutMs {
		timeoutMs = m.maxTimeoutMs
	}
	return timeoutMs
}

// SetPlaybackTrigger wires the Playback Coordinator after construction,
// breaking the internal/nfc <-> internal/playback import cycle the same
// way internal/library.SetInUseChecker does.
func (m *Machine) SetPlaybackTrigger(p PlaybackTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback = p
}

// Run drains the hardware adapter's Detections channel until ctx is
// cancelled, debouncing repeat reads of the same tag. It is intended to run
// as a supervised suture.Service (internal/supervisor).
func (m *Machine) Run(ctx context.Context) error {
	if !m.hw.Available() {
		return apperr.New(apperr.KindHardwareUnavailable, "nfc hardware adapter unavailable")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case tag, ok := <-m.hw.Detections():
			if !ok {
				return apperr.New(apperr.KindHardwareUnavailable, "nfc hardware detections channel closed")
			}
			m.onTagDetected(ctx, tag)
		case _, ok := <-m.hw.Removals():
			if !ok {
				return apperr.New(apperr.KindHardwareUnavailable, "nfc hardware removals channel closed")
			}
			m.mu.Lock()
			m.lastTag = ""
			m.mu.Unlock()
		}
	}
}

func (m *Machine) onTagDetected(ctx context.Context, tagUID string) {
	now := time.Now()
	m.mu.Lock()
	if tagUID == m.lastTag && now.Sub(m.lastAt) < m.debounce {
		m.mu.Unlock()
		return
	}
	m.lastTag = tagUID
	m.lastAt = now
	session := m.active
	m.mu.Unlock()

	if session != nil {
		m.handleAssociationTag(ctx, tagUID)
		return
	}
	m.handlePlaybackTrigger(ctx, tagUID)
}

func (m *Machine) handlePlaybackTrigger(ctx context.Context, tagUID string) {
	playlist, err := m.repo.GetPlaylistByNfcTag(tagUID)
	if err != nil {
		m.publish(ctx, Session{State: "unknown_tag", ObservedTagID: tagUID})
		return
	}

	m.mu.Lock()
	trigger := m.playback
	m.mu.Unlock()
	if trigger == nil {
		return
	}
	if trigger.ActivePlaylistID() == playlist.PlaylistID {
		return
	}
	if err := trigger.LoadAndPlay(ctx, playlist.PlaylistID); err != nil {
		logging.Named("nfc").Error().Err(err).Str("playlist_id", playlist.PlaylistID).Msg("playback trigger failed")
	}
}

// StartAssociation begins listening for a tag to bind to playlistID. Only
// one session may be active at a time (spec §4.8).
func (m *Machine) StartAssociation(ctx context.Context, playlistID string, timeoutMs int) (Session, error) {
	if _, err := m.repo.GetPlaylistByID(playlistID); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return Session{}, apperr.Busy("an association session is already active")
	}
	timeoutMs = m.resolveTimeoutMs(timeoutMs)
	now := time.Now()
	sess := &Session{
		AssociationID: uuid.New().String(),
		PlaylistID:    playlistID,
		State:         StateListening,
		CreatedAt:     now,
		TimeoutAt:     now.Add(time.Duration(timeoutMs) * time.Millisecond),
	}
	m.active = sess
	m.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() { m.onTimeout(ctx, sess.AssociationID) })
	out := *sess
	m.mu.Unlock()

	m.publish(ctx, out)
	return out, nil
}

func (m *Machine) onTimeout(ctx context.Context, associationID string) {
	m.mu.Lock()
	if m.active == nil || m.active.AssociationID != associationID || m.active.State != StateListening {
		m.mu.Unlock()
		return
	}
	m.active.State = StateTimedOut
	out := *m.active
	m.active = nil
	m.mu.Unlock()
	m.publish(ctx, out)
}

func (m *Machine) handleAssociationTag(ctx context.Context, tagUID string) {
	m.mu.Lock()
	sess := m.active
	if sess == nil {
		m.mu.Unlock()
		return
	}

	switch sess.State {
	case StateListening:
		existing, err := m.repo.GetPlaylistByNfcTag(tagUID)
		if err == nil && existing.PlaylistID != sess.PlaylistID {
			sess.State = StateDuplicateDetected
			sess.ObservedTagID = tagUID
			sess.ConflictingPlaylistID = existing.PlaylistID
			out := *sess
			m.mu.Unlock()
			m.publish(ctx, out)
			return
		}
		sess.ObservedTagID = tagUID
		sess.State = StateCompleted
		playlistID := sess.PlaylistID
		out := *sess
		m.active = nil
		m.stopTimerLocked()
		m.mu.Unlock()

		if err := m.repo.AssociateNfcTag(ctx, playlistID, tagUID); err != nil {
			out.State = StateError
			m.publish(ctx, out)
			return
		}
		m.publish(ctx, out)
	default:
		m.mu.Unlock()
	}
}

// ActiveAssociation returns the in-progress session, if any. WebSocket
// commands (stop_nfc_link, override_nfc_tag) carry no association_id of
// their own (spec §6.1) since only one association can be active system-
// wide; callers resolve it here before calling Cancel/Override.
func (m *Machine) ActiveAssociation() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return *m.active, true
}

// Override resolves a DuplicateDetected session by reassigning the tag from
// the conflicting playlist to this session's target (spec §4.8).
func (m *Machine) Override(ctx context.Context, associationID string) (Session, error) {
	m.mu.Lock()
	sess := m.active
	if sess == nil || sess.AssociationID != associationID {
		m.mu.Unlock()
		return Session{}, apperr.NotFound("association session %s not found", associationID)
	}
	if sess.State != StateDuplicateDetected {
		m.mu.Unlock()
		return Session{}, apperr.Validation("association session is not awaiting an override decision")
	}
	playlistID, tagUID := sess.PlaylistID, sess.ObservedTagID
	m.mu.Unlock()

	if err := m.repo.DissociateNfcTag(ctx, tagUID); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return Session{}, err
	}
	if err := m.repo.AssociateNfcTag(ctx, playlistID, tagUID); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	sess.State = StateCompleted
	out := *sess
	m.active = nil
	m.stopTimerLocked()
	m.mu.Unlock()

	m.publish(ctx, out)
	return out, nil
}

// Cancel tears down the active session from Listening or DuplicateDetected.
func (m *Machine) Cancel(ctx context.Context, associationID string) (Session, error) {
	m.mu.Lock()
	sess := m.active
	if sess == nil || sess.AssociationID != associationID {
		m.mu.Unlock()
		return Session{}, apperr.NotFound("association session %s not found", associationID)
	}
	sess.State = StateCancelled
	out := *sess
	m.active = nil
	m.stopTimerLocked()
	m.mu.Unlock()

	m.publish(ctx, out)
	return out, nil
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) publish(ctx context.Context, sess Session) {
	m.pub.Publish(ctx, events.DomainEvent{
		Type: events.TypeNfcState,
		Data: sess,
	})
}
