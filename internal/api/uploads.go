package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
)

const maxChunkBodyBytes = 16 << 20 // 16MiB, well above any configured chunk size

// CreateUploadSession handles POST /api/playlists/{id}/uploads/session.
func (h *Handler) CreateUploadSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req CreateUploadSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	playlistID := chi.URLParam(r, "id")
	h.runOp(rw, req.ClientOpID, "upload session created", func() (interface{}, error) {
		return h.Upload.CreateSession(r.Context(), playlistID, req.Filename, req.FileSize, req.ChunkSize)
	})
}

// UploadChunk handles PUT /api/playlists/{id}/uploads/{sid}/chunks/{n}. The
// chunk payload is the raw request body, not JSON, per spec §6.2.
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	sessionID := chi.URLParam(r, "sid")
	index, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		rw.Error(apperr.Validation("chunk index must be an integer"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBodyBytes+1))
	defer r.Body.Close()
	if err != nil {
		rw.Error(apperr.Wrap(apperr.KindValidation, "failed to read chunk body", err))
		return
	}
	if len(data) > maxChunkBodyBytes {
		rw.Error(apperr.Validation("chunk exceeds maximum accepted size"))
		return
	}

	status, err := h.Upload.UploadChunk(r.Context(), sessionID, index, data)
	if err != nil {
		rw.Error(err)
		return
	}
	rw.Success("chunk accepted", status, h.Seq.CurrentGlobal())
}

// FinalizeUpload handles POST /api/playlists/{id}/uploads/{sid}/finalize.
func (h *Handler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req FinalizeUploadRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	sessionID := chi.URLParam(r, "sid")
	h.runOp(rw, req.ClientOpID, "upload finalized", func() (interface{}, error) {
		return h.Upload.FinalizeUpload(r.Context(), sessionID, req.ExpectedSHA256)
	})
}

// CancelUpload handles DELETE /api/playlists/{id}/uploads/{sid}.
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	sessionID := chi.URLParam(r, "sid")
	if err := h.Upload.CancelUpload(r.Context(), sessionID); err != nil {
		rw.Error(err)
		return
	}
	rw.NoContent()
}

// GetUploadStatus handles GET /api/playlists/{id}/uploads/{sid}.
func (h *Handler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	status, err := h.Upload.GetStatus(chi.URLParam(r, "sid"))
	if err != nil {
		rw.Error(err)
		return
	}
	rw.Success("upload status", status, h.Seq.CurrentGlobal())
}
