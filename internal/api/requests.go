package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/go-playground/validator/v10"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
)

// validate is a single, shared struct-tag validator instance, grounded on
// the rest of the pack's go-playground/validator/v10 usage (denpa-radio)
// rather than the teacher's own hand-rolled field checks, since the
// teacher's surface (auth/Plex/NATS) has no equivalent struct-tag layer to
// imitate directly.
var validate = validator.New()

// CreatePlaylistRequest is the body of POST /api/playlists.
type CreatePlaylistRequest struct {
	ClientOpID  string `json:"client_op_id" validate:"required"`
	Title       string `json:"title" validate:"required,min=1,max=256"`
	Description string `json:"description" validate:"max=2048"`
}

// UpdatePlaylistRequest is the body of PUT /api/playlists/{id}.
type UpdatePlaylistRequest struct {
	ClientOpID  string  `json:"client_op_id" validate:"required"`
	Title       *string `json:"title" validate:"omitempty,min=1,max=256"`
	Description *string `json:"description" validate:"omitempty,max=2048"`
}

// DeleteTracksRequest is the body of DELETE /api/playlists/{id}/tracks.
type DeleteTracksRequest struct {
	ClientOpID   string `json:"client_op_id" validate:"required"`
	TrackNumbers []int  `json:"track_numbers" validate:"required,min=1,dive,min=1"`
}

// ReorderTracksRequest is the body of POST /api/playlists/{id}/reorder.
type ReorderTracksRequest struct {
	ClientOpID string   `json:"client_op_id" validate:"required"`
	TrackOrder []string `json:"track_order" validate:"required,min=1,dive,required"`
}

// MoveTrackRequest is the body of POST /api/playlists/move-track.
type MoveTrackRequest struct {
	ClientOpID       string `json:"client_op_id" validate:"required"`
	SourcePlaylistID string `json:"source_playlist_id" validate:"required"`
	TargetPlaylistID string `json:"target_playlist_id" validate:"required"`
	TrackNumber      int    `json:"track_number" validate:"required,min=1"`
	TargetPosition   *int   `json:"target_position" validate:"omitempty,min=1"`
}

// AssociateNfcRequest is the body of POST /api/nfc/associate: tag_id is
// optional — when present, the association is applied immediately
// (idempotent); when absent, it starts an AssociationSession that resolves
// once a tag is detected on the reader (spec §6.2).
type AssociateNfcRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
	PlaylistID string `json:"playlist_id" validate:"required"`
	TagID      string `json:"tag_id"`
	TimeoutMs  int    `json:"timeout_ms" validate:"omitempty,min=1000,max=300000"`
}

// OverrideNfcRequest is the body of POST /api/nfc/associations/{id}/override.
type OverrideNfcRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
}

// CreateUploadSessionRequest is the body of POST /api/playlists/{id}/uploads/session.
type CreateUploadSessionRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
	Filename   string `json:"filename" validate:"required"`
	FileSize   int64  `json:"file_size" validate:"required,min=1"`
	ChunkSize  int64  `json:"chunk_size" validate:"omitempty,min=1"`
}

// FinalizeUploadRequest is the body of POST
// /api/playlists/{id}/uploads/{sid}/finalize; expected_sha256 is optional
// per spec §4.7 ("expected_sha256?").
type FinalizeUploadRequest struct {
	ClientOpID     string `json:"client_op_id" validate:"required"`
	ExpectedSHA256 string `json:"expected_sha256" validate:"omitempty,len=64,hexadecimal"`
}

// SeekRequest is the body of POST /api/player/seek.
type SeekRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
	PositionMs int    `json:"position_ms" validate:"min=0"`
}

// VolumeRequest is the body of POST /api/player/volume.
type VolumeRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
	Volume     int    `json:"volume" validate:"min=0,max=100"`
}

// RepeatModeRequest is the body of POST /api/player/repeat.
type RepeatModeRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
	Mode       string `json:"mode" validate:"required,oneof=none one all"`
}

// ShuffleRequest is the body of POST /api/player/shuffle.
type ShuffleRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
	Enabled    bool   `json:"enabled"`
}

// opOnlyRequest is the body shape for player commands that carry nothing but
// an idempotency key (play/pause/toggle/stop/next/previous/mute/unmute).
type opOnlyRequest struct {
	ClientOpID string `json:"client_op_id" validate:"required"`
}

// decodeAndValidate JSON-decodes r's body into dst and runs struct-tag
// validation, returning a KindValidation apperr.Error on either failure.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "request validation failed", err)
	}
	return nil
}
