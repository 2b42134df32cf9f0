package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AssociateNfc handles POST /api/nfc/associate: with tag_id present, it
// applies the association immediately and idempotently; without it, it
// starts an AssociationSession that resolves once a tag lands on the
// reader (spec §4.8, §6.2).
func (h *Handler) AssociateNfc(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req AssociateNfcRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	if req.TagID != "" {
		h.runOp(rw, req.ClientOpID, "nfc tag associated", func() (interface{}, error) {
			return nil, h.Repo.AssociateNfcTag(r.Context(), req.PlaylistID, req.TagID)
		})
		return
	}
	h.runOp(rw, req.ClientOpID, "nfc association started", func() (interface{}, error) {
		return h.NFC.StartAssociation(r.Context(), req.PlaylistID, req.TimeoutMs)
	})
}

// NfcStatus handles GET /api/nfc/status: the in-progress AssociationSession,
// or an idle report when none is active.
func (h *Handler) NfcStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if sess, ok := h.NFC.ActiveAssociation(); ok {
		rw.Success("nfc status", sess, h.Seq.CurrentGlobal())
		return
	}
	rw.Success("nfc status", map[string]string{"state": "idle"}, h.Seq.CurrentGlobal())
}

// OverrideNfcAssociation handles POST /api/nfc/associations/{id}/override,
// resolving a duplicate_detected session by reassigning the tag.
func (h *Handler) OverrideNfcAssociation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req OverrideNfcRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.Error(err)
		return
	}
	associationID := chi.URLParam(r, "id")
	h.runOp(rw, req.ClientOpID, "nfc association overridden", func() (interface{}, error) {
		return h.NFC.Override(r.Context(), associationID)
	})
}

// CancelNfcAssociation handles DELETE /api/nfc/associations/{id}.
func (h *Handler) CancelNfcAssociation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	associationID := chi.URLParam(r, "id")
	sess, err := h.NFC.Cancel(r.Context(), associationID)
	if err != nil {
		rw.Error(err)
		return
	}
	rw.Success("nfc association cancelled", sess, h.Seq.CurrentGlobal())
}

// DissociateNfcTag handles DELETE /api/nfc/associate/{tag_id}.
func (h *Handler) DissociateNfcTag(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	tagID := chi.URLParam(r, "tag_id")
	if err := h.Repo.DissociateNfcTag(r.Context(), tagID); err != nil {
		rw.Error(err)
		return
	}
	rw.NoContent()
}
