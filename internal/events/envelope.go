// Package events defines the wire envelope and the internal domain-event sum
// type that the Broadcasting Service (internal/broadcast) consumes. Domain
// components never build envelopes themselves — they publish a DomainEvent,
// and internal/broadcast is solely responsible for sequencing, stamping, and
// serializing it into a StateEventEnvelope. This mirrors the teacher's
// eventprocessor package (events.go, publisher.go), adapted from its
// NATS-subject media-event model to an in-process, sequenced envelope model
// per the design notes (callbacks/broadcasting -> typed channels/buses).
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope is the StateEventEnvelope wire type from spec §6.1. It is
// immutable once emitted: the Broadcasting Service is the only writer.
type Envelope struct {
	EventType   string      `json:"event_type"`
	GlobalSeq   uint64      `json:"global_seq"`
	PlaylistSeq *uint64     `json:"playlist_seq,omitempty"`
	EventID     string      `json:"event_id"`
	TimestampMs int64       `json:"timestamp_ms"`
	Data        interface{} `json:"data"`
}

// NewEnvelope stamps event_id and timestamp_ms; global_seq/playlist_seq are
// assigned later by the Sequence Generator via internal/broadcast.
func NewEnvelope(eventType string, data interface{}) *Envelope {
	return &Envelope{
		EventType:   eventType,
		EventID:     uuid.New().String(),
		TimestampMs: time.Now().UTC().UnixMilli(),
		Data:        data,
	}
}

// Marshal serializes the envelope to JSON using the same high-performance
// codec (goccy/go-json) the teacher uses throughout its wire paths.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Room-scoped event type constants, the catalog from spec §4.3.
const (
	TypePlayer         = "state:player"
	TypeTrackPosition  = "state:track_position"
	TypePlaylists      = "state:playlists"
	TypePlaylistCreate = "state:playlist_created"
	TypePlaylistUpdate = "state:playlist_updated"
	TypePlaylistDelete = "state:playlist_deleted"
	TypeTrackAdded     = "state:track_added"
	TypeTrackDeleted   = "state:track_deleted"
	TypeVolumeChanged  = "state:volume_changed"
	TypeNfcState       = "state:nfc_state"
	TypeUploadProgress = "upload:progress"
	TypeUploadComplete = "upload:complete"
	TypeUploadError    = "upload:error"
	TypeAckOp          = "ack:op"
	TypeErrOp          = "err:op"
	TypeSyncComplete   = "sync:complete"
	TypeSyncError      = "sync:error"
)

// Room names, per spec §4.4.
const (
	RoomPlaylists = "playlists"
	RoomNfc       = "nfc"
)

// PlaylistRoom returns the room name scoping a playlist's own events.
func PlaylistRoom(playlistID string) string {
	return "playlist:" + playlistID
}

// DomainEvent is the sum type published by every component onto the internal
// bus that the Broadcasting Service consumes. PlaylistID, when non-empty,
// both picks the per-resource lock (spec §4.3) and the playlist room to
// deliver to; it is empty for globally-scoped events.
type DomainEvent struct {
	Type        string
	PlaylistID  string // lock/room key; "" means global-only
	Rooms       []string
	Data        interface{}
	ClientOpID  string // non-empty when this event completes a tracked operation
	SkipOutbox  bool   // true for state:track_position — excluded from resync horizon
}
