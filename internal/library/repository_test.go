package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/memstore"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/outbox"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/sequence"
)

func newRepo() *Repository {
	store := memstore.New()
	h := hub.New()
	pub := broadcast.New(sequence.New(0), outbox.New(outbox.DefaultConfig(), nil), h)
	return New(store, pub)
}

func TestCreatePlaylistRejectsEmptyTitle(t *testing.T) {
	r := newRepo()
	_, err := r.CreatePlaylist(context.Background(), "", "desc")
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestAddTrackAssignsDenseNumbers(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p, err := r.CreatePlaylist(ctx, "My Mix", "")
	require.NoError(t, err)

	t1, err := r.AddTrack(ctx, p.PlaylistID, Track{Title: "a", Filename: "a.mp3"})
	require.NoError(t, err)
	require.Equal(t, 1, t1.TrackNumber)

	t2, err := r.AddTrack(ctx, p.PlaylistID, Track{Title: "b", Filename: "b.mp3"})
	require.NoError(t, err)
	require.Equal(t, 2, t2.TrackNumber)
}

func TestAddTrackRejectsDuplicateHash(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p, _ := r.CreatePlaylist(ctx, "My Mix", "")
	_, err := r.AddTrack(ctx, p.PlaylistID, Track{Title: "a", FileHash: "h1"})
	require.NoError(t, err)
	_, err = r.AddTrack(ctx, p.PlaylistID, Track{Title: "b", FileHash: "h1"})
	require.Error(t, err)
	require.Equal(t, apperr.KindDuplicateHash, apperr.KindOf(err))
}

func TestDeleteTracksRenumbersRemaining(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p, _ := r.CreatePlaylist(ctx, "My Mix", "")
	r.AddTrack(ctx, p.PlaylistID, Track{Title: "a"})
	r.AddTrack(ctx, p.PlaylistID, Track{Title: "b"})
	r.AddTrack(ctx, p.PlaylistID, Track{Title: "c"})

	require.NoError(t, r.DeleteTracks(ctx, p.PlaylistID, []int{2}))

	got, err := r.GetPlaylistByID(p.PlaylistID)
	require.NoError(t, err)
	require.Len(t, got.Tracks, 2)
	require.Equal(t, 1, got.Tracks[0].TrackNumber)
	require.Equal(t, 2, got.Tracks[1].TrackNumber)
	require.Equal(t, "a", got.Tracks[0].Title)
	require.Equal(t, "c", got.Tracks[1].Title)
}

func TestReorderTracksRejectsNonPermutation(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p, _ := r.CreatePlaylist(ctx, "My Mix", "")
	r.AddTrack(ctx, p.PlaylistID, Track{Title: "a"})
	r.AddTrack(ctx, p.PlaylistID, Track{Title: "b"})

	err := r.ReorderTracks(ctx, p.PlaylistID, []string{"bogus-id"})
	require.Error(t, err)
	require.Equal(t, apperr.KindMismatchedSet, apperr.KindOf(err))
}

func TestReorderTracksPermutesInPlace(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p, _ := r.CreatePlaylist(ctx, "My Mix", "")
	ta, _ := r.AddTrack(ctx, p.PlaylistID, Track{Title: "a"})
	tb, _ := r.AddTrack(ctx, p.PlaylistID, Track{Title: "b"})

	require.NoError(t, r.ReorderTracks(ctx, p.PlaylistID, []string{tb.TrackID, ta.TrackID}))

	got, _ := r.GetPlaylistByID(p.PlaylistID)
	require.Equal(t, "b", got.Tracks[0].Title)
	require.Equal(t, 1, got.Tracks[0].TrackNumber)
	require.Equal(t, "a", got.Tracks[1].Title)
	require.Equal(t, 2, got.Tracks[1].TrackNumber)
}

func TestMoveTrackBetweenPlaylists(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	src, _ := r.CreatePlaylist(ctx, "Src", "")
	dst, _ := r.CreatePlaylist(ctx, "Dst", "")
	r.AddTrack(ctx, src.PlaylistID, Track{Title: "a"})
	r.AddTrack(ctx, src.PlaylistID, Track{Title: "b"})

	require.NoError(t, r.MoveTrack(ctx, src.PlaylistID, dst.PlaylistID, 1, nil))

	gotSrc, _ := r.GetPlaylistByID(src.PlaylistID)
	gotDst, _ := r.GetPlaylistByID(dst.PlaylistID)
	require.Len(t, gotSrc.Tracks, 1)
	require.Equal(t, "b", gotSrc.Tracks[0].Title)
	require.Equal(t, 1, gotSrc.Tracks[0].TrackNumber)
	require.Len(t, gotDst.Tracks, 1)
	require.Equal(t, "a", gotDst.Tracks[0].Title)
	require.Equal(t, dst.PlaylistID, gotDst.Tracks[0].PlaylistID)
}

func TestAssociateNfcTagEnforcesUniqueness(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p1, _ := r.CreatePlaylist(ctx, "P1", "")
	p2, _ := r.CreatePlaylist(ctx, "P2", "")

	require.NoError(t, r.AssociateNfcTag(ctx, p1.PlaylistID, "tag-1"))

	err := r.AssociateNfcTag(ctx, p2.PlaylistID, "tag-1")
	require.Error(t, err)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestDissociateNfcTagFreesItForReuse(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p1, _ := r.CreatePlaylist(ctx, "P1", "")
	p2, _ := r.CreatePlaylist(ctx, "P2", "")

	require.NoError(t, r.AssociateNfcTag(ctx, p1.PlaylistID, "tag-1"))
	require.NoError(t, r.DissociateNfcTag(ctx, "tag-1"))
	require.NoError(t, r.AssociateNfcTag(ctx, p2.PlaylistID, "tag-1"))
}

func TestDeletePlaylistRejectsWhenInUse(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	p, _ := r.CreatePlaylist(ctx, "P1", "")
	r.SetInUseChecker(func(id string) bool { return id == p.PlaylistID })

	err := r.DeletePlaylist(ctx, p.PlaylistID)
	require.Error(t, err)
	require.Equal(t, apperr.KindInUse, apperr.KindOf(err))
}

func TestListPlaylistsPaginates(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := r.CreatePlaylist(ctx, "P", "")
		require.NoError(t, err)
	}
	page, err := r.ListPlaylists(1, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, 5, page.TotalItems)
}
