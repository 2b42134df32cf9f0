package api

import (
	"time"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/health"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/nfc"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/optracker"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/playback"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
	synccontroller "github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sync"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/upload"
)

// httpSessionID is the Operation Tracker session scope used for every
// HTTP-originated client_op_id (spec §4.5, §6.1: "all mutating client
// commands - whether via HTTP or WebSocket - carry client_op_id"). HTTP
// requests have no persistent session the way a WebSocket connection does,
// so idempotency for HTTP-driven operations is scoped to one shared
// pseudo-session rather than per-connection, matching E2E-6's expectation
// that replaying the same client_op_id from a fresh HTTP connection still
// returns the cached terminal result.
const httpSessionID = "http"

// Handler holds every collaborator as an explicit, constructor-injected
// dependency (design notes: "no service locator"), mirroring the teacher's
// own internal/api.Handler (internal/api/handlers.go) which takes its
// database/sync/config/wsHub dependencies the same way.
type Handler struct {
	Repo       *library.Repository
	Upload     *upload.Engine
	NFC        *nfc.Machine
	Playback   *playback.Coordinator
	Pub        *broadcast.Service
	Ops        *optracker.Tracker
	AckTimeout time.Duration
	Seq        *sequence.Generator
	Sync       *synccontroller.Controller
	Health     *health.Reporter
	Hub        *hub.Manager
	StartTime  time.Time
}

// NewHandler wires a Handler from already-constructed components. ackTimeout
// is the spec §5 op_timeout: a fresh operation unacked within it is
// reported as a transient timeout rather than blocking the request.
func NewHandler(
	repo *library.Repository,
	uploadEngine *upload.Engine,
	nfcMachine *nfc.Machine,
	pb *playback.Coordinator,
	pub *broadcast.Service,
	ops *optracker.Tracker,
	ackTimeout time.Duration,
	seq *sequence.Generator,
	sc *synccontroller.Controller,
	healthReporter *health.Reporter,
	h *hub.Manager,
) *Handler {
	return &Handler{
		Repo:       repo,
		Upload:     uploadEngine,
		NFC:        nfcMachine,
		Playback:   pb,
		Pub:        pub,
		Ops:        ops,
		AckTimeout: ackTimeout,
		Seq:        seq,
		Sync:       sc,
		Health:     healthReporter,
		Hub:        h,
		StartTime:  time.Now(),
	}
}

// runOp wraps an HTTP-originated mutating command with Operation Tracker
// idempotency (spec §4.5): a replayed client_op_id returns the cached
// terminal result verbatim without re-executing fn, a still-in-flight one
// reports busy, and a fresh one executes fn under the op_timeout deadline
// (spec §5) and records its outcome.
func (h *Handler) runOp(rw *ResponseWriter, clientOpID, successMessage string, fn func() (interface{}, error)) {
	reg := h.Ops.Register(httpSessionID, clientOpID)
	if !reg.Fresh {
		if reg.Pending {
			rw.Error(apperr.Busy("operation %s is already in progress", clientOpID))
			return
		}
		if reg.Replay != nil && reg.Replay.Status == "errored" {
			rw.Error(apperr.New(apperr.Kind(reg.Replay.ErrKind), reg.Replay.ErrMessage))
			return
		}
		var data interface{}
		if reg.Replay != nil {
			data = reg.Replay.ResultSnapshot
		}
		rw.Success(successMessage, data, h.Seq.CurrentGlobal())
		return
	}

	data, err := h.Ops.Run(httpSessionID, clientOpID, h.AckTimeout, fn)
	if err != nil {
		rw.Error(err)
		return
	}
	rw.Success(successMessage, data, h.Seq.CurrentGlobal())
}
