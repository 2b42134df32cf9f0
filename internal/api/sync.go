package api

import (
	"net/http"

	synccontroller "github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sync"
)

// Resync handles POST /api/sync, the HTTP fallback for the WebSocket
// sync:request command (spec §4.10), returning the resync envelopes (or a
// full snapshot when the client's cursor has fallen off the outbox
// horizon) as a plain array the client replays in order.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req syncRequestBody
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	envs := h.Sync.Resolve(r.Context(), req.toControllerRequest())
	rw.Success("resync", envs, h.Seq.CurrentGlobal())
}

type syncRequestBody struct {
	LastGlobalSeq    uint64            `json:"last_global_seq"`
	LastPlaylistSeqs map[string]uint64 `json:"last_playlist_seqs"`
}

func (b syncRequestBody) toControllerRequest() synccontroller.Request {
	return synccontroller.Request{
		LastGlobalSeq:    b.LastGlobalSeq,
		LastPlaylistSeqs: b.LastPlaylistSeqs,
	}
}
