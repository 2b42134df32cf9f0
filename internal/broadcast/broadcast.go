// Package broadcast implements the Broadcasting Service (C3): the single
// writer of StateEventEnvelopes (spec §4.3). Domain components never
// construct envelopes themselves; they publish a events.DomainEvent here,
// and Service is solely responsible for per-resource-locked sequencing,
// outbox retention, and room fan-out via internal/hub. This collapses the
// teacher's eventprocessor publisher+router pair
// (internal/eventprocessor/publisher.go, internal/eventprocessor/router.go)
// into one in-process component, since there is no NATS subject space to
// route across here — only local rooms.
package broadcast

import (
	"context"
	"sync"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
)

// Delivery is the room fan-out dependency, satisfied by *hub.Manager.
// Declared as an interface here (rather than importing internal/hub
// directly) so broadcast stays the dependency root for sequencing/outbox
// concerns and doesn't need to know about session registration.
type Delivery interface {
	Deliver(room string, env *events.Envelope)
}

// Service is the Broadcasting Service (C3).
type Service struct {
	seq    *sequence.Generator
	box    *outbox.Outbox
	hub    Delivery

	// locks guards per-resource serialization: one mutex per playlist_id,
	// plus a single "" entry for globally-scoped events, per spec §4.3
	// ("Publish is serialized per resource: playlist id if present, else
	// global").
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Service wired to the given sequence generator, outbox, and
// room-delivery fabric.
func New(seq *sequence.Generator, box *outbox.Outbox, hub Delivery) *Service {
	return &Service{
		seq:   seq,
		box:   box,
		hub:   hub,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Publish sequences, stamps, retains, and delivers a domain event. It is
// the only path by which an Envelope is ever constructed with a non-zero
// global_seq, matching the single-writer invariant in spec §4.3.
func (s *Service) Publish(ctx context.Context, ev events.DomainEvent) (*events.Envelope, error) {
	resourceKey := ev.PlaylistID // "" means global
	lock := s.lockFor(resourceKey)
	lock.Lock()
	defer lock.Unlock()

	env := events.NewEnvelope(ev.Type, ev.Data)
	env.GlobalSeq = s.seq.NextGlobal()
	if ev.PlaylistID != "" {
		pseq := s.seq.NextPlaylist(ev.PlaylistID)
		env.PlaylistSeq = &pseq
	}

	if !ev.SkipOutbox {
		if err := s.box.Append(ctx, env, ev.PlaylistID); err != nil {
			logging.Named("broadcast").Error().Err(err).
				Str("event_type", ev.Type).
				Msg("failed to append envelope to outbox")
			return nil, err
		}
	}

	rooms := ev.Rooms
	if len(rooms) == 0 {
		rooms = defaultRooms(ev)
	}
	for _, room := range rooms {
		s.hub.Deliver(room, env)
	}

	return env, nil
}

// defaultRooms derives the fan-out target when the caller didn't specify
// one explicitly: playlist-scoped events go to both the aggregate
// "playlists" room and their own "playlist:{id}" room (spec §4.4), NFC
// events go to the "nfc" room, everything else goes to "playlists".
func defaultRooms(ev events.DomainEvent) []string {
	switch ev.Type {
	case events.TypeNfcState:
		return []string{events.RoomNfc}
	}
	if ev.PlaylistID != "" {
		return []string{events.RoomPlaylists, events.PlaylistRoom(ev.PlaylistID)}
	}
	return []string{events.RoomPlaylists}
}
