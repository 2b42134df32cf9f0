package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
)

type fakeSession struct {
	id       string
	received []*events.Envelope
	fail     bool
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Send(env *events.Envelope) bool {
	if f.fail {
		return false
	}
	f.received = append(f.received, env)
	return true
}

func TestJoinRequiresRegisteredSession(t *testing.T) {
	m := New()
	require.False(t, m.Join("ghost", events.RoomPlaylists))

	s := &fakeSession{id: "s1"}
	m.Register(s)
	require.True(t, m.Join("s1", events.RoomPlaylists))
}

func TestDeliverFansOutToRoomMembersOnly(t *testing.T) {
	m := New()
	s1 := &fakeSession{id: "s1"}
	s2 := &fakeSession{id: "s2"}
	m.Register(s1)
	m.Register(s2)
	m.Join("s1", events.RoomPlaylists)

	env := &events.Envelope{EventType: events.TypePlaylistUpdate, GlobalSeq: 1}
	m.Deliver(events.RoomPlaylists, env)

	require.Len(t, s1.received, 1)
	require.Len(t, s2.received, 0)
}

func TestDeliverSkipsFailedSessionButContinues(t *testing.T) {
	m := New()
	s1 := &fakeSession{id: "s1", fail: true}
	s2 := &fakeSession{id: "s2"}
	m.Register(s1)
	m.Register(s2)
	m.Join("s1", events.RoomNfc)
	m.Join("s2", events.RoomNfc)

	env := &events.Envelope{EventType: events.TypeNfcState, GlobalSeq: 1}
	m.Deliver(events.RoomNfc, env)

	require.Len(t, s1.received, 0)
	require.Len(t, s2.received, 1)
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	m := New()
	s1 := &fakeSession{id: "s1"}
	m.Register(s1)
	m.Join("s1", events.RoomPlaylists)
	m.Join("s1", events.PlaylistRoom("p1"))
	require.Len(t, m.Rooms("s1"), 2)

	m.Unregister("s1")
	require.Len(t, m.Members(events.RoomPlaylists), 0)
	require.Len(t, m.Rooms("s1"), 0)
}

func TestLeaveIsIdempotent(t *testing.T) {
	m := New()
	s1 := &fakeSession{id: "s1"}
	m.Register(s1)
	m.Join("s1", events.RoomPlaylists)
	m.Leave("s1", events.RoomPlaylists)
	m.Leave("s1", events.RoomPlaylists)
	require.Len(t, m.Members(events.RoomPlaylists), 0)
}

func TestMembersDeterministicOrder(t *testing.T) {
	m := New()
	for _, id := range []string{"zzz", "aaa", "mmm"} {
		s := &fakeSession{id: id}
		m.Register(s)
		m.Join(id, events.RoomPlaylists)
	}
	require.Equal(t, []string{"aaa", "mmm", "zzz"}, m.Members(events.RoomPlaylists))
}
