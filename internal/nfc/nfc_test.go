package nfc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/config"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/memstore"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
)

type fakeHW struct {
	detected chan string
	removed  chan struct{}
	avail    bool
}

func newFakeHW() *fakeHW {
	return &fakeHW{detected: make(chan string, 4), removed: make(chan struct{}, 4), avail: true}
}

func (f *fakeHW) Detections() <-chan string { return f.detected }
func (f *fakeHW) Removals() <-chan struct{} { return f.removed }
func (f *fakeHW) Available() bool           { return f.avail }
func (f *fakeHW) Close() error              { return nil }

type fakePlayback struct {
	loaded string
	active string
}

func (f *fakePlayback) LoadAndPlay(ctx context.Context, playlistID string) error {
	f.loaded = playlistID
	f.active = playlistID
	return nil
}
func (f *fakePlayback) ActivePlaylistID() string { return f.active }

func newMachine(t *testing.T) (*Machine, *library.Repository, *fakeHW, *fakePlayback) {
	t.Helper()
	store := memstore.New()
	h := hub.New()
	pub := broadcast.New(sequence.New(0), outbox.New(outbox.DefaultConfig(), nil), h)
	repo := library.New(store, pub)
	hw := newFakeHW()
	pb := &fakePlayback{}
	m := New(hw, repo, pub, pb, config.NFCConfig{DebounceMs: 500, DefaultTimeoutMs: 60_000, MaxTimeoutMs: 300_000})
	return m, repo, hw, pb
}

func TestStartAssociationRejectsSecondConcurrent(t *testing.T) {
	m, repo, _, _ := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")
	p2, _ := repo.CreatePlaylist(ctx, "P2", "")

	_, err := m.StartAssociation(ctx, p1.PlaylistID, 5000)
	require.NoError(t, err)

	_, err = m.StartAssociation(ctx, p2.PlaylistID, 5000)
	require.Error(t, err)
	require.Equal(t, apperr.KindBusy, apperr.KindOf(err))
}

func TestAssociationCompletesOnFreshTag(t *testing.T) {
	m, repo, _, _ := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")

	_, err := m.StartAssociation(ctx, p1.PlaylistID, 5000)
	require.NoError(t, err)

	m.onTagDetected(ctx, "tag-1")

	got, err := repo.GetPlaylistByID(p1.PlaylistID)
	require.NoError(t, err)
	require.Equal(t, "tag-1", got.NfcTagID)

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	require.Nil(t, active) // terminal state tears down the session (spec §4.8)
}

func TestAssociationDetectsDuplicateThenOverride(t *testing.T) {
	m, repo, _, _ := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")
	p2, _ := repo.CreatePlaylist(ctx, "P2", "")
	require.NoError(t, repo.AssociateNfcTag(ctx, p1.PlaylistID, "tag-1"))

	sess, err := m.StartAssociation(ctx, p2.PlaylistID, 5000)
	require.NoError(t, err)

	m.onTagDetected(ctx, "tag-1")

	m.mu.Lock()
	state := m.active.State
	conflicting := m.active.ConflictingPlaylistID
	m.mu.Unlock()
	require.Equal(t, StateDuplicateDetected, state)
	require.Equal(t, p1.PlaylistID, conflicting)

	out, err := m.Override(ctx, sess.AssociationID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, out.State)

	got2, err := repo.GetPlaylistByID(p2.PlaylistID)
	require.NoError(t, err)
	require.Equal(t, "tag-1", got2.NfcTagID)

	got1, err := repo.GetPlaylistByID(p1.PlaylistID)
	require.NoError(t, err)
	require.Empty(t, got1.NfcTagID)
}

func TestAssociationCancel(t *testing.T) {
	m, repo, _, _ := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")
	sess, err := m.StartAssociation(ctx, p1.PlaylistID, 5000)
	require.NoError(t, err)

	out, err := m.Cancel(ctx, sess.AssociationID)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, out.State)

	_, err = m.StartAssociation(ctx, p1.PlaylistID, 5000)
	require.NoError(t, err) // slot freed
}

func TestPlaybackTriggerLoadsDifferentPlaylist(t *testing.T) {
	m, repo, _, pb := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")
	require.NoError(t, repo.AssociateNfcTag(ctx, p1.PlaylistID, "tag-1"))

	m.onTagDetected(ctx, "tag-1")
	require.Equal(t, p1.PlaylistID, pb.loaded)
}

func TestPlaybackTriggerIgnoresUnknownTag(t *testing.T) {
	m, _, _, pb := newMachine(t)
	ctx := context.Background()

	m.onTagDetected(ctx, "unknown-tag")
	require.Empty(t, pb.loaded)
}

func TestPlaybackTriggerSkipsAlreadyActivePlaylist(t *testing.T) {
	m, repo, _, pb := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")
	require.NoError(t, repo.AssociateNfcTag(ctx, p1.PlaylistID, "tag-1"))
	pb.active = p1.PlaylistID

	m.onTagDetected(ctx, "tag-1")
	require.Empty(t, pb.loaded) // never called LoadAndPlay since already active
}

func TestStartAssociationDefaultsAndClampsTimeout(t *testing.T) {
	m, repo, _, _ := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")

	sess, err := m.StartAssociation(ctx, p1.PlaylistID, 0)
	require.NoError(t, err)
	require.WithinDuration(t, sess.CreatedAt.Add(60*time.Second), sess.TimeoutAt, time.Second)
	_, err = m.Cancel(ctx, sess.AssociationID)
	require.NoError(t, err)

	sess, err = m.StartAssociation(ctx, p1.PlaylistID, 1_000_000)
	require.NoError(t, err)
	require.WithinDuration(t, sess.CreatedAt.Add(300*time.Second), sess.TimeoutAt, time.Second)
}

func TestDebounceSuppressesRepeatedTagWithinWindow(t *testing.T) {
	m, repo, _, pb := newMachine(t)
	ctx := context.Background()
	p1, _ := repo.CreatePlaylist(ctx, "P1", "")
	require.NoError(t, repo.AssociateNfcTag(ctx, p1.PlaylistID, "tag-1"))

	m.onTagDetected(ctx, "tag-1")
	require.Equal(t, p1.PlaylistID, pb.loaded)

	pb.loaded = ""
	pb.active = "" // simulate a second call arriving within the debounce window
	m.onTagDetected(ctx, "tag-1")
	require.Empty(t, pb.loaded) // debounced: same tag, still within window
}
