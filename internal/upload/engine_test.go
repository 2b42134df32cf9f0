package upload

import (
	"context"
	"os"
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

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, filePath string) (collab.Metadata, error) {
	return collab.Metadata{Title: "Extracted Title", Artist: "Artist", DurationMs: 12345}, nil
}

func newEngine(t *testing.T) (*Engine, *library.Repository, string) {
	t.Helper()
	root := t.TempDir()
	store := memstore.New()
	h := hub.New()
	pub := broadcast.New(sequence.New(0), outbox.New(outbox.DefaultConfig(), nil), h)
	repo := library.New(store, pub)

	cfg := Config{
		UploadRoot: root + "/library",
		TempRoot:   root + "/tmp",
		ChunkSize:  4,
	}
	eng := New(cfg, repo, pub, fakeExtractor{})
	return eng, repo, root
}

func TestCreateSessionRejectsBadFilename(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, err := repo.CreatePlaylist(ctx, "P1", "")
	require.NoError(t, err)

	_, err = eng.CreateSession(ctx, p.PlaylistID, "../evil.mp3", 10, 0)
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = eng.CreateSession(ctx, p.PlaylistID, "track.xyz", 10, 0)
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestFullUploadLifecycleProducesTrack(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, err := repo.CreatePlaylist(ctx, "P1", "")
	require.NoError(t, err)

	data := []byte("0123456789") // 10 bytes, chunk_size=4 -> 3 chunks (4,4,2)
	sess, err := eng.CreateSession(ctx, p.PlaylistID, "song.mp3", int64(len(data)), 0)
	require.NoError(t, err)
	require.Equal(t, 3, sess.TotalChunks)

	_, err = eng.UploadChunk(ctx, sess.SessionID, 0, data[0:4])
	require.NoError(t, err)
	_, err = eng.UploadChunk(ctx, sess.SessionID, 1, data[4:8])
	require.NoError(t, err)
	st, err := eng.UploadChunk(ctx, sess.SessionID, 2, data[8:10])
	require.NoError(t, err)
	require.Equal(t, 3, st.ReceivedCount)

	track, err := eng.FinalizeUpload(ctx, sess.SessionID, "")
	require.NoError(t, err)
	require.Equal(t, "Extracted Title", track.Title)
	require.Equal(t, int64(10), track.FileSize)

	got, err := repo.GetPlaylistByID(p.PlaylistID)
	require.NoError(t, err)
	require.Len(t, got.Tracks, 1)

	_, err = os.Stat(track.FilePath)
	require.NoError(t, err)
}

func TestUploadChunkIsIdempotentForRepeatedIndex(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, _ := repo.CreatePlaylist(ctx, "P1", "")
	sess, _ := eng.CreateSession(ctx, p.PlaylistID, "song.mp3", 4, 0)

	_, err := eng.UploadChunk(ctx, sess.SessionID, 0, []byte("abcd"))
	require.NoError(t, err)
	st, err := eng.UploadChunk(ctx, sess.SessionID, 0, []byte("abcd"))
	require.NoError(t, err)
	require.Equal(t, 1, st.ReceivedCount)
}

func TestFinalizeRejectsSha256Mismatch(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, _ := repo.CreatePlaylist(ctx, "P1", "")
	sess, _ := eng.CreateSession(ctx, p.PlaylistID, "song.mp3", 4, 0)
	_, err := eng.UploadChunk(ctx, sess.SessionID, 0, []byte("abcd"))
	require.NoError(t, err)

	_, err = eng.FinalizeUpload(ctx, sess.SessionID, "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	require.Equal(t, apperr.KindIntegrityError, apperr.KindOf(err))
}

func TestFinalizeRejectsIncompleteSession(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, _ := repo.CreatePlaylist(ctx, "P1", "")
	sess, _ := eng.CreateSession(ctx, p.PlaylistID, "song.mp3", 8, 0)
	_, err := eng.UploadChunk(ctx, sess.SessionID, 0, []byte("abcd"))
	require.NoError(t, err)

	_, err = eng.FinalizeUpload(ctx, sess.SessionID, "")
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCancelUploadIsIdempotent(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, _ := repo.CreatePlaylist(ctx, "P1", "")
	sess, _ := eng.CreateSession(ctx, p.PlaylistID, "song.mp3", 4, 0)

	require.NoError(t, eng.CancelUpload(ctx, sess.SessionID))
	require.NoError(t, eng.CancelUpload(ctx, sess.SessionID))

	st, err := eng.GetStatus(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, st.State)
}

func TestPurgeExpiredFailsStaleSessions(t *testing.T) {
	eng, repo, _ := newEngine(t)
	ctx := context.Background()
	p, _ := repo.CreatePlaylist(ctx, "P1", "")
	sess, _ := eng.CreateSession(ctx, p.PlaylistID, "song.mp3", 4, 0)

	st := eng.sessions[sess.SessionID]
	st.mu.Lock()
	st.ExpiresAt = st.ExpiresAt.Add(-time.Hour)
	st.mu.Unlock()

	n := eng.PurgeExpired(ctx)
	require.Equal(t, 1, n)

	got, err := eng.GetStatus(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)
}
