package api

import (
	"net/http"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/playback"
)

// PlayerStatus handles GET /api/player/status.
func (h *Handler) PlayerStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success("player status", h.Playback.Snapshot(), h.Seq.CurrentGlobal())
}

// Play handles POST /api/player/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "playing", func() (interface{}, error) {
		return nil, h.Playback.Play(r.Context())
	})
}

// Pause handles POST /api/player/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "paused", func() (interface{}, error) {
		return nil, h.Playback.Pause(r.Context())
	})
}

// Toggle handles POST /api/player/toggle.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "toggled", func() (interface{}, error) {
		return nil, h.Playback.Toggle(r.Context())
	})
}

// Stop handles POST /api/player/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "stopped", func() (interface{}, error) {
		return nil, h.Playback.Stop(r.Context())
	})
}

// Next handles POST /api/player/next.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "advanced", func() (interface{}, error) {
		return nil, h.Playback.Next(r.Context())
	})
}

// Previous handles POST /api/player/previous.
func (h *Handler) Previous(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "rewound", func() (interface{}, error) {
		return nil, h.Playback.Previous(r.Context())
	})
}

// Mute handles POST /api/player/mute.
func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "muted", func() (interface{}, error) {
		return nil, h.Playback.Mute(r.Context())
	})
}

// Unmute handles POST /api/player/unmute.
func (h *Handler) Unmute(w http.ResponseWriter, r *http.Request) {
	h.playerOp(w, r, "unmuted", func() (interface{}, error) {
		return nil, h.Playback.Unmute(r.Context())
	})
}

// Seek handles POST /api/player/seek.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req SeekRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, "seeked", func() (interface{}, error) {
		return nil, h.Playback.Seek(r.Context(), req.PositionMs)
	})
}

// SetVolume handles POST /api/player/volume.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req VolumeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, "volume set", func() (interface{}, error) {
		return nil, h.Playback.SetVolume(r.Context(), req.Volume)
	})
}

// SetRepeatMode handles POST /api/player/repeat.
func (h *Handler) SetRepeatMode(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req RepeatModeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, "repeat mode set", func() (interface{}, error) {
		return nil, h.Playback.SetRepeatMode(r.Context(), playback.RepeatMode(req.Mode))
	})
}

// SetShuffle handles POST /api/player/shuffle.
func (h *Handler) SetShuffle(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req ShuffleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, "shuffle set", func() (interface{}, error) {
		return nil, h.Playback.SetShuffle(r.Context(), req.Enabled)
	})
}

// playerOp is the shared decode-validate-run path for the zero-argument
// player commands (play/pause/toggle/stop/next/previous/mute/unmute).
func (h *Handler) playerOp(w http.ResponseWriter, r *http.Request, successMessage string, fn func() (interface{}, error)) {
	rw := NewResponseWriter(w, r)
	var req opOnlyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, successMessage, fn)
}
