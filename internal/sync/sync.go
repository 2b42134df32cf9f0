// Package sync implements the Sync Controller (C10): answers a
// reconnecting client's `sync:request` by replaying Outbox entries above
// its last-seen sequence, or falling back to a full snapshot when the
// requested cursor has fallen outside the retained window (spec §4.10). It
// is grounded on the teacher's eventprocessor replay subscriber/checkpoint
// pair (internal/eventprocessor/replay_subscriber.go,
// replay_checkpoint.go) — same "replay-from-checkpoint, or re-baseline on
// gap" shape, adapted from a NATS JetStream consumer cursor to this spec's
// in-memory global_seq/playlist_seq cursors.
package sync

import (
	"context"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/playback"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
)

// Request is the inbound `sync:request` payload (spec §6.1).
type Request struct {
	LastGlobalSeq    uint64            `json:"last_global_seq"`
	LastPlaylistSeqs map[string]uint64 `json:"last_playlist_seqs,omitempty"`
}

// Controller is the Sync Controller (C10).
type Controller struct {
	box      *outbox.Outbox
	repo     *library.Repository
	playback *playback.Coordinator
	seq      *sequence.Generator
}

// New creates a Controller wired to the already-running components whose
// state it reconciles clients against.
func New(box *outbox.Outbox, repo *library.Repository, pb *playback.Coordinator, seq *sequence.Generator) *Controller {
	return &Controller{box: box, repo: repo, playback: pb, seq: seq}
}

// snapshotEnvelope builds a reconciliation envelope carrying the server's
// current state rather than a replayed historical mutation. It is stamped
// with the server's current global_seq (no new sequence is issued: a
// snapshot isn't a new mutation, it's a restatement of existing state).
func (c *Controller) snapshotEnvelope(eventType string, data interface{}, playlistSeq *uint64) *events.Envelope {
	env := events.NewEnvelope(eventType, data)
	env.GlobalSeq = c.seq.CurrentGlobal()
	env.PlaylistSeq = playlistSeq
	return env
}

// Resolve processes a sync:request and returns, in send order: the
// envelopes to replay/snapshot with, followed by one terminal
// `sync:complete` envelope. It never emits `sync:error`: a snapshot lookup
// that fails is logged and its envelope is left out.
func (c *Controller) Resolve(ctx context.Context, req Request) []*events.Envelope {
	var out []*events.Envelope

	globalEnvs, needSnapshot := c.box.Since(req.LastGlobalSeq)
	if needSnapshot {
		out = append(out, c.globalSnapshot(ctx)...)
	} else {
		out = append(out, globalEnvs...)
	}

	for playlistID, lastSeq := range req.LastPlaylistSeqs {
		envs, gap := c.box.SincePlaylist(playlistID, lastSeq)
		if gap {
			if env, ok := c.playlistSnapshot(playlistID); ok {
				out = append(out, env)
			}
			continue
		}
		out = append(out, envs...)
	}

	out = append(out, c.snapshotEnvelope(events.TypeSyncComplete, map[string]uint64{
		"global_seq": c.seq.CurrentGlobal(),
	}, nil))

	logging.Named("sync").Debug().
		Uint64("requested_last_global_seq", req.LastGlobalSeq).
		Int("envelope_count", len(out)).
		Msg("resolved sync:request")

	return out
}

// globalSnapshot rebuilds the client's entire baseline when the requested
// cursor has aged out of the outbox window: the full playlists list plus
// the current player state (spec §4.10).
func (c *Controller) globalSnapshot(ctx context.Context) []*events.Envelope {
	var out []*events.Envelope

	// A snapshot reconciles the client's entire view in one shot, so there
	// is no pagination cursor to honor here: request a page large enough to
	// cover any realistic library size.
	const snapshotPageSize = 100000
	page, err := c.repo.ListPlaylists(1, snapshotPageSize)
	if err != nil {
		logging.Named("sync").Error().Err(err).Msg("snapshot: list playlists failed")
	} else {
		out = append(out, c.snapshotEnvelope(events.TypePlaylists, page, nil))
	}

	if c.playback != nil {
		out = append(out, c.snapshotEnvelope(events.TypePlayer, c.playback.Snapshot(), nil))
	}

	return out
}

// playlistSnapshot rebuilds a single playlist's baseline when its cursor
// has aged out of the per-playlist outbox window.
func (c *Controller) playlistSnapshot(playlistID string) (*events.Envelope, bool) {
	p, err := c.repo.GetPlaylistByID(playlistID)
	if err != nil {
		logging.Named("sync").Warn().Err(err).Str("playlist_id", playlistID).
			Msg("snapshot: playlist not found, omitting from resync")
		return nil, false
	}
	seq := p.PlaylistSeq
	return c.snapshotEnvelope(events.TypePlaylistUpdate, p, &seq), true
}
