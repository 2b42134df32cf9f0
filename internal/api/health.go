package api

import "net/http"

// HealthStatus handles GET /api/health, grounded on the teacher's
// internal/api/handlers_health.go Health handler shape (report body plus a
// 503 when any registered subsystem is unready).
func (h *Handler) HealthStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	report := h.Health.Report()
	if !h.Health.Ready() {
		rw.writeJSON(http.StatusServiceUnavailable, SuccessBody{
			Status:    "degraded",
			Message:   "one or more subsystems are not ready",
			Data:      report,
			ServerSeq: h.Seq.CurrentGlobal(),
			Timestamp: nowMillis(),
		})
		return
	}
	rw.Success("ok", report, h.Seq.CurrentGlobal())
}
