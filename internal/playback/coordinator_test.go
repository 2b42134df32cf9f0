package playback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/memstore"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
)

type fakeBackend struct {
	loaded    string
	playing   bool
	position  int
	volume    int
	events    chan collab.PlaybackEvent
	loadErr   error
	playDelay time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan collab.PlaybackEvent, 4)}
}

func (f *fakeBackend) Load(ctx context.Context, filePath string) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = filePath
	f.position = 0
	return nil
}
func (f *fakeBackend) Play(ctx context.Context) error {
	if f.playDelay > 0 {
		select {
		case <-time.After(f.playDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.playing = true
	return nil
}
func (f *fakeBackend) Pause(ctx context.Context) error { f.playing = false; return nil }
func (f *fakeBackend) Stop(ctx context.Context) error  { f.playing = false; f.position = 0; return nil }
func (f *fakeBackend) Seek(ctx context.Context, positionMs int) error {
	f.position = positionMs
	return nil
}
func (f *fakeBackend) SetVolume(ctx context.Context, volume int) error { f.volume = volume; return nil }
func (f *fakeBackend) Position(ctx context.Context) (int, error)      { return f.position, nil }
func (f *fakeBackend) Events() <-chan collab.PlaybackEvent            { return f.events }
func (f *fakeBackend) Close() error                                   { return nil }

func newCoordinator(t *testing.T) (*Coordinator, *library.Repository, *fakeBackend) {
	t.Helper()
	store := memstore.New()
	h := hub.New()
	pub := broadcast.New(sequence.New(0), outbox.New(outbox.DefaultConfig(), nil), h)
	repo := library.New(store, pub)
	backend := newFakeBackend()
	return New(backend, repo, pub, 0), repo, backend
}

func seedPlaylist(t *testing.T, repo *library.Repository, n int) *library.Playlist {
	t.Helper()
	ctx := context.Background()
	p, err := repo.CreatePlaylist(ctx, "Mix", "")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := repo.AddTrack(ctx, p.PlaylistID, library.Track{Title: "t", FilePath: "/x", DurationMs: 10000})
		require.NoError(t, err)
	}
	got, err := repo.GetPlaylistByID(p.PlaylistID)
	require.NoError(t, err)
	return got
}

func TestLoadPlaylistSetsActiveTrackAndResetsPosition(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 3)

	st, err := c.LoadPlaylist(context.Background(), p.PlaylistID, 1)
	require.NoError(t, err)
	require.Equal(t, p.Tracks[1].TrackID, st.ActiveTrackID)
	require.Equal(t, 0, st.PositionMs)
}

func TestPlayPauseToggle(t *testing.T) {
	c, repo, backend := newCoordinator(t)
	p := seedPlaylist(t, repo, 1)
	ctx := context.Background()
	_, err := c.LoadPlaylist(ctx, p.PlaylistID, 0)
	require.NoError(t, err)

	require.NoError(t, c.Toggle(ctx))
	require.True(t, backend.playing)
	require.NoError(t, c.Toggle(ctx))
	require.False(t, backend.playing)
}

func TestSeekClampsToDuration(t *testing.T) {
	c, repo, backend := newCoordinator(t)
	p := seedPlaylist(t, repo, 1)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 0)

	require.NoError(t, c.Seek(ctx, 999999))
	require.Equal(t, 10000, backend.position)

	require.NoError(t, c.Seek(ctx, -5))
	require.Equal(t, 0, backend.position)
}

func TestNextWrapsWithRepeatAll(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 2)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 1) // last track
	require.NoError(t, c.SetRepeatMode(ctx, RepeatAll))

	require.NoError(t, c.Next(ctx))
	st := c.publishPlayerState(ctx)
	require.Equal(t, p.Tracks[0].TrackID, st.ActiveTrackID)
}

func TestNextStopsAtEndWithRepeatNone(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 2)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 1)
	c.Play(ctx)

	require.NoError(t, c.Next(ctx))
	st := c.publishPlayerState(ctx)
	require.False(t, st.IsPlaying)
	require.Equal(t, 0, st.PositionMs)
}

func TestRepeatOneReplaysSameTrack(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 2)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 0)
	require.NoError(t, c.SetRepeatMode(ctx, RepeatOne))

	require.NoError(t, c.advance(ctx, true))
	st := c.publishPlayerState(ctx)
	require.Equal(t, p.Tracks[0].TrackID, st.ActiveTrackID)
}

func TestPreviousWrapsOnlyWithRepeatAll(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 2)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 0)

	require.NoError(t, c.Previous(ctx)) // repeat=none -> stop
	st := c.publishPlayerState(ctx)
	require.False(t, st.IsPlaying)

	c.LoadPlaylist(ctx, p.PlaylistID, 0)
	require.NoError(t, c.SetRepeatMode(ctx, RepeatAll))
	require.NoError(t, c.Previous(ctx))
	st = c.publishPlayerState(ctx)
	require.Equal(t, p.Tracks[1].TrackID, st.ActiveTrackID)
}

func TestShuffleAvoidsImmediateRepeatWithMultipleTracks(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 5)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 0)
	require.NoError(t, c.SetShuffle(ctx, true))

	first := p.Tracks[0].TrackID
	require.NoError(t, c.Next(ctx))
	st := c.publishPlayerState(ctx)
	require.NotEqual(t, first, st.ActiveTrackID)
}

func TestIsPlaylistInUseReflectsActiveAndPlaying(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	p := seedPlaylist(t, repo, 1)
	ctx := context.Background()
	c.LoadPlaylist(ctx, p.PlaylistID, 0)
	require.False(t, c.IsPlaylistInUse(p.PlaylistID))

	c.Play(ctx)
	require.True(t, c.IsPlaylistInUse(p.PlaylistID))
}

func TestHandleBackendEventsAutoAdvancesOnTrackEnded(t *testing.T) {
	c, repo, backend := newCoordinator(t)
	p := seedPlaylist(t, repo, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.LoadPlaylist(ctx, p.PlaylistID, 0)
	c.Play(ctx)

	go c.HandleBackendEvents(ctx)
	backend.events <- collab.PlaybackEvent{Type: "track_ended"}

	require.Eventually(t, func() bool {
		st := c.publishPlayerState(ctx)
		return st.ActiveTrackID == p.Tracks[1].TrackID
	}, 1e9, 1e7)
}

func TestPlaySurfacesTimeoutWhenBackendBlocksPastCallTimeout(t *testing.T) {
	store := memstore.New()
	h := hub.New()
	pub := broadcast.New(sequence.New(0), outbox.New(outbox.DefaultConfig(), nil), h)
	repo := library.New(store, pub)
	backend := newFakeBackend()
	backend.playDelay = 50 * time.Millisecond
	c := New(backend, repo, pub, 5*time.Millisecond)

	p := seedPlaylist(t, repo, 1)
	ctx := context.Background()
	_, err := c.LoadPlaylist(ctx, p.PlaylistID, 0)
	require.NoError(t, err)

	err = c.Play(ctx)
	require.Error(t, err)
	require.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
}
