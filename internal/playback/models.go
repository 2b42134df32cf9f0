// Package playback implements the Playback Coordinator (C9): the single
// owner of PlayerState and the shared AudioBackend pipeline, commanded by
// HTTP, NFC triggers, and physical controls alike (spec §4.9). Circuit
// breaking around the AudioBackend collaborator is grounded verbatim on the
// teacher's own circuit-breaker wrapper
// (internal/eventprocessor/circuitbreaker.go, internal/eventprocessor/config.go)
// — same CircuitBreaker[interface{}] + Settings + ExecuteWithBreaker idiom,
// reused here to protect playback instead of event persistence.
package playback

// RepeatMode is one of the PlayerState repeat_mode values (spec §3).
type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

// State is the PlayerState singleton from spec §3.
type State struct {
	IsPlaying         bool       `json:"is_playing"`
	ActivePlaylistID  string     `json:"active_playlist_id,omitempty"`
	ActiveTrackID     string     `json:"active_track_id,omitempty"`
	PositionMs        int        `json:"position_ms"`
	Volume            int        `json:"volume"`
	Muted             bool       `json:"muted"`
	RepeatMode        RepeatMode `json:"repeat_mode"`
	Shuffle           bool       `json:"shuffle"`
	GlobalSeq         uint64     `json:"global_seq"`
}

// PositionUpdate is the lightweight state:track_position payload (spec
// §4.3, §4.9): excluded from the resync horizon, emitted at ≤5 Hz.
type PositionUpdate struct {
	PositionMs int    `json:"position_ms"`
	TrackID    string `json:"track_id"`
	IsPlaying  bool   `json:"is_playing"`
	DurationMs int    `json:"duration_ms,omitempty"`
}
