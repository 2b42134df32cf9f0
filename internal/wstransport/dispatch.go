package wstransport

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/nfc"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/optracker"
	synccontroller "github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sync"
)

// inboundMessage is the envelope every client->server command arrives in
// (spec §6.1): a type tag plus a type-specific JSON payload.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Dispatcher resolves inbound client commands (spec §6.1) against the Hub
// Manager, NFC Machine, Operation Tracker, and Sync Controller. It holds no
// per-connection state, letting one Dispatcher serve every Client.
type Dispatcher struct {
	Hub        *hub.Manager
	NFC        *nfc.Machine
	Ops        *optracker.Tracker
	AckTimeout time.Duration
	Sync       *synccontroller.Controller
}

// NewDispatcher builds a Dispatcher from its collaborators. ackTimeout is
// the spec §5 op_timeout applied to every command dispatched through
// runOp.
func NewDispatcher(h *hub.Manager, nfcMachine *nfc.Machine, ops *optracker.Tracker, ackTimeout time.Duration, sc *synccontroller.Controller) *Dispatcher {
	return &Dispatcher{Hub: h, NFC: nfcMachine, Ops: ops, AckTimeout: ackTimeout, Sync: sc}
}

// Dispatch parses and handles one inbound frame from c.
func (d *Dispatcher) Dispatch(c *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logging.Named("wstransport").Warn().Err(err).Str("session_id", c.ID()).Msg("malformed inbound frame")
		return
	}

	ctx := context.Background()
	switch msg.Type {
	case "join:playlists":
		d.Hub.Join(c.ID(), events.RoomPlaylists)
	case "leave:playlists":
		d.Hub.Leave(c.ID(), events.RoomPlaylists)
	case "join:playlist":
		var p playlistRoomPayload
		if json.Unmarshal(msg.Data, &p) == nil && p.PlaylistID != "" {
			d.Hub.Join(c.ID(), events.PlaylistRoom(p.PlaylistID))
		}
	case "leave:playlist":
		var p playlistRoomPayload
		if json.Unmarshal(msg.Data, &p) == nil && p.PlaylistID != "" {
			d.Hub.Leave(c.ID(), events.PlaylistRoom(p.PlaylistID))
		}
	case "join:nfc":
		d.Hub.Join(c.ID(), events.RoomNfc)
	case "start_nfc_link":
		d.handleStartNfcLink(ctx, c, msg.Data)
	case "stop_nfc_link":
		d.handleStopNfcLink(ctx, c, msg.Data)
	case "override_nfc_tag":
		d.handleOverrideNfcTag(ctx, c, msg.Data)
	case "sync:request":
		d.handleSyncRequest(ctx, c, msg.Data)
	case "client_ping":
		d.handleClientPing(c, msg.Data)
	default:
		logging.Named("wstransport").Warn().Str("type", msg.Type).Str("session_id", c.ID()).Msg("unknown inbound command")
	}
}

type playlistRoomPayload struct {
	PlaylistID string `json:"playlist_id"`
}

type startNfcLinkPayload struct {
	PlaylistID string `json:"playlist_id"`
	ClientOpID string `json:"client_op_id"`
}

type clientOpPayload struct {
	ClientOpID string `json:"client_op_id"`
}

type syncRequestPayload struct {
	LastGlobalSeq    uint64            `json:"last_global_seq"`
	LastPlaylistSeqs map[string]uint64 `json:"last_playlist_seqs"`
}

type clientPingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

func (d *Dispatcher) handleStartNfcLink(ctx context.Context, c *Client, data json.RawMessage) {
	var p startNfcLinkPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ClientOpID == "" {
		d.sendErr(c, apperr.Validation("start_nfc_link requires playlist_id and client_op_id"))
		return
	}
	d.runOp(c, p.ClientOpID, func() (interface{}, error) {
		return d.NFC.StartAssociation(ctx, p.PlaylistID, 0)
	})
}

func (d *Dispatcher) handleStopNfcLink(ctx context.Context, c *Client, data json.RawMessage) {
	var p clientOpPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ClientOpID == "" {
		d.sendErr(c, apperr.Validation("stop_nfc_link requires client_op_id"))
		return
	}
	active, ok := d.NFC.ActiveAssociation()
	if !ok {
		d.sendErr(c, apperr.NotFound("no nfc association is in progress"))
		return
	}
	d.runOp(c, p.ClientOpID, func() (interface{}, error) {
		return d.NFC.Cancel(ctx, active.AssociationID)
	})
}

func (d *Dispatcher) handleOverrideNfcTag(ctx context.Context, c *Client, data json.RawMessage) {
	var p clientOpPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ClientOpID == "" {
		d.sendErr(c, apperr.Validation("override_nfc_tag requires client_op_id"))
		return
	}
	active, ok := d.NFC.ActiveAssociation()
	if !ok {
		d.sendErr(c, apperr.NotFound("no nfc association is awaiting an override decision"))
		return
	}
	d.runOp(c, p.ClientOpID, func() (interface{}, error) {
		return d.NFC.Override(ctx, active.AssociationID)
	})
}

func (d *Dispatcher) handleSyncRequest(ctx context.Context, c *Client, data json.RawMessage) {
	var p syncRequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendErr(c, apperr.Validation("malformed sync:request payload"))
		return
	}
	envs := d.Sync.Resolve(ctx, synccontroller.Request{LastGlobalSeq: p.LastGlobalSeq, LastPlaylistSeqs: p.LastPlaylistSeqs})
	for _, env := range envs {
		c.Send(env)
	}
}

func (d *Dispatcher) handleClientPing(c *Client, data json.RawMessage) {
	var p clientPingPayload
	_ = json.Unmarshal(data, &p)
	c.Send(events.NewEnvelope("client_pong", p))
}

// runOp applies the same Operation Tracker idempotency and op_timeout
// rules as the HTTP surface's Handler.runOp (internal/api/handler.go),
// replaying a cached terminal result for a duplicate client_op_id instead
// of re-executing fn.
func (d *Dispatcher) runOp(c *Client, clientOpID string, fn func() (interface{}, error)) {
	reg := d.Ops.Register(c.ID(), clientOpID)
	if !reg.Fresh {
		if reg.Pending {
			d.sendErr(c, apperr.Busy("operation %s is already in progress", clientOpID))
			return
		}
		if reg.Replay != nil && reg.Replay.Status == "errored" {
			d.sendErr(c, apperr.New(apperr.Kind(reg.Replay.ErrKind), reg.Replay.ErrMessage))
			return
		}
		if reg.Replay != nil {
			c.Send(events.NewEnvelope(events.TypeAckOp, ackOpPayload{ClientOpID: clientOpID, Result: reg.Replay.ResultSnapshot}))
		}
		return
	}

	data, err := d.Ops.Run(c.ID(), clientOpID, d.AckTimeout, fn)
	if err != nil {
		d.sendErr(c, err)
		return
	}
	c.Send(events.NewEnvelope(events.TypeAckOp, ackOpPayload{ClientOpID: clientOpID, Result: data}))
}

type ackOpPayload struct {
	ClientOpID string      `json:"client_op_id"`
	Result     interface{} `json:"result,omitempty"`
}

type errOpPayload struct {
	ClientOpID string `json:"client_op_id,omitempty"`
	ErrorType  string `json:"error_type"`
	Message    string `json:"message"`
}

func (d *Dispatcher) sendErr(c *Client, err error) {
	c.Send(events.NewEnvelope(events.TypeErrOp, errOpPayload{
		ErrorType: string(apperr.KindOf(err)),
		Message:   err.Error(),
	}))
}
