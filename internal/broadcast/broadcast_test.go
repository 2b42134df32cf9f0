package broadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
)

type fakeHub struct {
	mu        sync.Mutex
	delivered map[string][]*events.Envelope
}

func newFakeHub() *fakeHub {
	return &fakeHub{delivered: make(map[string][]*events.Envelope)}
}

func (f *fakeHub) Deliver(room string, env *events.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[room] = append(f.delivered[room], env)
}

func newService() (*Service, *fakeHub) {
	h := newFakeHub()
	s := New(sequence.New(0), outbox.New(outbox.DefaultConfig(), nil), h)
	return s, h
}

func TestPublishAssignsMonotonicGlobalSeq(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	e1, err := s.Publish(ctx, events.DomainEvent{Type: events.TypeVolumeChanged, Data: 50})
	require.NoError(t, err)
	e2, err := s.Publish(ctx, events.DomainEvent{Type: events.TypeVolumeChanged, Data: 60})
	require.NoError(t, err)

	require.Equal(t, uint64(1), e1.GlobalSeq)
	require.Equal(t, uint64(2), e2.GlobalSeq)
}

func TestPublishStampsPlaylistSeqOnlyForPlaylistScoped(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	env, err := s.Publish(ctx, events.DomainEvent{
		Type:       events.TypePlaylistUpdate,
		PlaylistID: "p1",
		Data:       nil,
	})
	require.NoError(t, err)
	require.NotNil(t, env.PlaylistSeq)
	require.Equal(t, uint64(1), *env.PlaylistSeq)

	env2, err := s.Publish(ctx, events.DomainEvent{Type: events.TypeVolumeChanged, Data: nil})
	require.NoError(t, err)
	require.Nil(t, env2.PlaylistSeq)
}

func TestPublishDeliversToDefaultRooms(t *testing.T) {
	s, h := newService()
	ctx := context.Background()

	_, err := s.Publish(ctx, events.DomainEvent{
		Type:       events.TypeTrackAdded,
		PlaylistID: "p1",
	})
	require.NoError(t, err)

	require.Len(t, h.delivered[events.RoomPlaylists], 1)
	require.Len(t, h.delivered[events.PlaylistRoom("p1")], 1)
}

func TestPublishRoutesNfcEventsToNfcRoom(t *testing.T) {
	s, h := newService()
	ctx := context.Background()

	_, err := s.Publish(ctx, events.DomainEvent{Type: events.TypeNfcState})
	require.NoError(t, err)

	require.Len(t, h.delivered[events.RoomNfc], 1)
	require.Len(t, h.delivered[events.RoomPlaylists], 0)
}

func TestPublishSkipsOutboxWhenRequested(t *testing.T) {
	h := newFakeHub()
	box := outbox.New(outbox.DefaultConfig(), nil)
	s := New(sequence.New(0), box, h)
	ctx := context.Background()

	_, err := s.Publish(ctx, events.DomainEvent{Type: events.TypeTrackPosition, SkipOutbox: true})
	require.NoError(t, err)

	_, snapshotRequired := box.Since(0)
	require.False(t, snapshotRequired)
	got, _ := box.Since(0)
	require.Len(t, got, 0)
}

func TestPublishIsSerializedPerPlaylist(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Publish(ctx, events.DomainEvent{Type: events.TypeTrackAdded, PlaylistID: "p1"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(n), s.seq.CurrentPlaylist("p1"))
}
