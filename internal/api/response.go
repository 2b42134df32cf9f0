// Package api implements the HTTP surface (spec §6.2): a go-chi/chi/v5
// router, a Handler struct holding every collaborator as an explicit
// constructor-injected dependency (the design notes' "no service locator"
// instruction), and a ResponseWriter that renders the spec's exact success/
// error body shapes. It is grounded on the teacher's own internal/api
// package (response.go, chi_router.go, handlers*.go, errors.go) — same
// ResponseWriter-wraps-http.ResponseWriter idiom and Handler-holds-every-
// dependency shape, adapted from the teacher's {success,data,error,meta}
// envelope to this spec's {status,message,data,server_seq,timestamp} one.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/middleware"
)

// SuccessBody is the exact 200-class response shape from spec §6.2.
type SuccessBody struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	ServerSeq uint64      `json:"server_seq"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorBody is the exact 4xx/5xx response shape from spec §6.2.
type ErrorBody struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	ErrorType string                 `json:"error_type"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// ResponseWriter renders the spec's response bodies onto an
// http.ResponseWriter, stamping the request ID from context.
type ResponseWriter struct {
	w http.ResponseWriter
	r *http.Request
}

// NewResponseWriter wraps w/r for handler use.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r}
}

// Success writes a 200 response with data and the server's current
// global_seq at time of response (spec §6.2 "server_seq").
func (rw *ResponseWriter) Success(message string, data interface{}, serverSeq uint64) {
	rw.writeJSON(http.StatusOK, SuccessBody{
		Status:    "success",
		Message:   message,
		Data:      data,
		ServerSeq: serverSeq,
		Timestamp: nowMillis(),
	})
}

// NoContent writes a 204 No Content, permitted for DELETE per spec §6.2.
func (rw *ResponseWriter) NoContent() {
	rw.w.WriteHeader(http.StatusNoContent)
}

// Error translates an apperr.Kind to its HTTP status and writes the error
// body. Unrecognized error kinds (including plain Go errors) map to 500.
func (rw *ResponseWriter) Error(err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)

	var details map[string]interface{}
	if ae, ok := err.(*apperr.Error); ok {
		details = ae.Details
	}

	rw.writeJSON(status, ErrorBody{
		Status:    "error",
		Message:   err.Error(),
		ErrorType: string(kind),
		Details:   details,
		RequestID: middleware.GetRequestID(rw.r.Context()),
	})
}

// ServiceUnavailable writes a 503 with the given error_type, for the
// "subsystem unavailable" case in spec §6.2 (e.g. NFC or audio hardware).
func (rw *ResponseWriter) ServiceUnavailable(errorType, message string) {
	rw.writeJSON(http.StatusServiceUnavailable, ErrorBody{
		Status:    "error",
		Message:   message,
		ErrorType: errorType,
		RequestID: middleware.GetRequestID(rw.r.Context()),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindMismatchedSet, apperr.KindIntegrityError, apperr.KindUnknownOperation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInUse, apperr.KindDuplicateHash:
		return http.StatusConflict
	case apperr.KindBusy:
		return http.StatusConflict
	case apperr.KindTimeout:
		return http.StatusRequestTimeout
	case apperr.KindHardwareUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindStorageError, apperr.KindInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (rw *ResponseWriter) writeJSON(status int, body interface{}) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("api: failed to encode JSON response")
	}
}
