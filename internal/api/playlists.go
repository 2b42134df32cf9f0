package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
)

// ListPlaylists handles GET /api/playlists.
func (h *Handler) ListPlaylists(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	page, limit := 1, 100
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	p, err := h.Repo.ListPlaylists(page, limit)
	if err != nil {
		rw.Error(err)
		return
	}
	rw.Success("playlists listed", p, h.Seq.CurrentGlobal())
}

// GetPlaylist handles GET /api/playlists/{id}.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	p, err := h.Repo.GetPlaylistByID(chi.URLParam(r, "id"))
	if err != nil {
		rw.Error(err)
		return
	}
	rw.Success("playlist fetched", p, h.Seq.CurrentGlobal())
}

// CreatePlaylist handles POST /api/playlists.
func (h *Handler) CreatePlaylist(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req CreatePlaylistRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, "playlist created", func() (interface{}, error) {
		return h.Repo.CreatePlaylist(r.Context(), req.Title, req.Description)
	})
}

// UpdatePlaylist handles PUT /api/playlists/{id}.
func (h *Handler) UpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req UpdatePlaylistRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runOp(rw, req.ClientOpID, "playlist updated", func() (interface{}, error) {
		return h.Repo.UpdatePlaylist(r.Context(), id, library.UpdatePlaylistFields{
			Title:       req.Title,
			Description: req.Description,
		})
	})
}

// DeletePlaylist handles DELETE /api/playlists/{id}.
func (h *Handler) DeletePlaylist(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")
	clientOpID := r.URL.Query().Get("client_op_id")
	if clientOpID == "" {
		rw.Error(apperr.Validation("client_op_id query parameter is required"))
		return
	}
	h.runOp(rw, clientOpID, "playlist deleted", func() (interface{}, error) {
		return nil, h.Repo.DeletePlaylist(r.Context(), id)
	})
}

// StartPlaylist handles POST /api/playlists/{id}/start: load the playlist
// into the Playback Coordinator, begin playing from track 1, and return the
// resulting PlayerState (spec §4.9, §6.2).
func (h *Handler) StartPlaylist(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req opOnlyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runOp(rw, req.ClientOpID, "playlist started", func() (interface{}, error) {
		if err := h.Playback.LoadAndPlay(r.Context(), id); err != nil {
			return nil, err
		}
		return h.Playback.Snapshot(), nil
	})
}

// DeleteTracks handles DELETE /api/playlists/{id}/tracks.
func (h *Handler) DeleteTracks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req DeleteTracksRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runOp(rw, req.ClientOpID, "tracks deleted", func() (interface{}, error) {
		return nil, h.Repo.DeleteTracks(r.Context(), id, req.TrackNumbers)
	})
}

// ReorderTracks handles POST /api/playlists/{id}/reorder.
func (h *Handler) ReorderTracks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req ReorderTracksRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	id := chi.URLParam(r, "id")
	h.runOp(rw, req.ClientOpID, "tracks reordered", func() (interface{}, error) {
		return nil, h.Repo.ReorderTracks(r.Context(), id, req.TrackOrder)
	})
}

// MoveTrack handles POST /api/playlists/move-track, per the spec's
// cross-playlist move semantics (§4.6, §6.2).
func (h *Handler) MoveTrack(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req MoveTrackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	h.runOp(rw, req.ClientOpID, "track moved", func() (interface{}, error) {
		return nil, h.Repo.MoveTrack(r.Context(), req.SourcePlaylistID, req.TargetPlaylistID, req.TrackNumber, req.TargetPosition)
	})
}
