// Package outbox implements the Event Outbox (C2): a durable, bounded buffer
// of recently emitted envelopes keyed by global_seq (and, per playlist, by
// playlist_seq) used to answer resync requests (spec §4.2, §4.10). It is
// grounded on the teacher's eventprocessor WAL/replay-checkpoint pattern
// (eventprocessor/wal_store.go, replay_checkpoint.go, wal/wal.go) — a
// durable-then-replay design — adapted from NATS-subject replay to the
// sequenced-envelope resync model this spec requires.
package outbox

import (
	"context"
	"sync"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

// Config controls retention, defaulting per spec §4.2.
type Config struct {
	GlobalCapacity int // default 1024
	PerPlaylistCap int // default 256
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{GlobalCapacity: 1024, PerPlaylistCap: 256}
}

// Outbox is the append-only ring described in spec §4.2, optionally backed by
// a Persistence collaborator so cold start can recover the max sequence
// numbers ever issued (spec §4.1).
type Outbox struct {
	cfg Config

	mu        sync.RWMutex
	global    *ring
	playlists map[string]*ring

	store collab.Persistence // may be nil: fully in-memory mode
}

// New creates an Outbox. store may be nil to run purely in-memory (tests,
// or deployments that accept resync-only-within-process-lifetime).
func New(cfg Config, store collab.Persistence) *Outbox {
	if cfg.GlobalCapacity <= 0 {
		cfg.GlobalCapacity = 1024
	}
	if cfg.PerPlaylistCap <= 0 {
		cfg.PerPlaylistCap = 256
	}
	return &Outbox{
		cfg:       cfg,
		global:    newRing(cfg.GlobalCapacity),
		playlists: make(map[string]*ring),
		store:     store,
	}
}

func globalSeqOf(e *events.Envelope) uint64 { return e.GlobalSeq }
func playlistSeqOf(e *events.Envelope) uint64 {
	if e.PlaylistSeq == nil {
		return 0
	}
	return *e.PlaylistSeq
}

// Append records env in the global ring, and in playlistID's ring when
// playlistID is non-empty, then (if a durable store is configured) persists
// it for cold-start recovery. Callers must not call Append for
// state:track_position envelopes (spec §4.3, §4.9): those are excluded from
// the resync horizon entirely.
func (o *Outbox) Append(ctx context.Context, env *events.Envelope, playlistID string) error {
	o.mu.Lock()
	o.global.append(env)
	if playlistID != "" {
		r, ok := o.playlists[playlistID]
		if !ok {
			r = newRing(o.cfg.PerPlaylistCap)
			o.playlists[playlistID] = r
		}
		r.append(env)
	}
	o.mu.Unlock()

	if o.store != nil {
		payload, err := env.Marshal()
		if err != nil {
			return apperr.Wrap(apperr.KindStorageError, "marshal envelope for outbox", err)
		}
		key := seqKey(env.GlobalSeq)
		if err := o.store.Put(ctx, nsOutbox, key, payload); err != nil {
			logging.Error().Err(err).Msg("outbox: durable append failed")
			return apperr.Wrap(apperr.KindStorageError, "persist outbox entry", err)
		}
	}
	return nil
}

// Since returns every envelope with global_seq > lastGlobalSeq, in order.
// snapshotRequired is true when lastGlobalSeq falls outside the retained
// window and the caller (Sync Controller) must emit a full snapshot instead.
func (o *Outbox) Since(lastGlobalSeq uint64) (env []*events.Envelope, snapshotRequired bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out, ok := o.global.since(lastGlobalSeq, globalSeqOf)
	return out, !ok
}

// SincePlaylist returns every playlist-scoped envelope for playlistID with
// playlist_seq > lastPlaylistSeq, in order.
func (o *Outbox) SincePlaylist(playlistID string, lastPlaylistSeq uint64) (env []*events.Envelope, snapshotRequired bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.playlists[playlistID]
	if !ok {
		// No events ever recorded for this playlist: nothing to replay, and no
		// gap either, unless the client claims to have seen something already.
		return nil, lastPlaylistSeq != 0
	}
	out, ok := r.since(lastPlaylistSeq, playlistSeqOf)
	return out, !ok
}

// MaxGlobalSeq returns the highest global_seq retained in memory.
func (o *Outbox) MaxGlobalSeq() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.global.latestSeq(globalSeqOf)
}

// RecoverMaxPersistedSeq scans the durable store (if any) for the highest
// global_seq ever written, for use seeding the Sequence Generator at cold
// start (spec §4.1). Returns 0 if there is no durable store or it is empty.
func (o *Outbox) RecoverMaxPersistedSeq(ctx context.Context) (uint64, error) {
	if o.store == nil {
		return 0, nil
	}
	var max uint64
	err := o.store.Scan(ctx, nsOutbox, func(key string, value []byte) bool {
		env := &events.Envelope{}
		if err := unmarshalEnvelope(value, env); err == nil && env.GlobalSeq > max {
			max = env.GlobalSeq
		}
		return true
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorageError, "scan outbox for recovery", err)
	}
	return max, nil
}

const nsOutbox = "outbox"

func seqKey(seq uint64) string {
	// Zero-padded decimal so lexical Scan order matches numeric order.
	const width = 20
	s := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		s[i] = byte('0' + seq%10)
		seq /= 10
	}
	return string(s)
}
