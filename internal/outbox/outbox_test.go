package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/memstore"
)

func env(globalSeq uint64, playlistSeq *uint64) *events.Envelope {
	return &events.Envelope{
		EventType:   events.TypePlaylistUpdate,
		GlobalSeq:   globalSeq,
		PlaylistSeq: playlistSeq,
		EventID:     "e",
	}
}

func u64(v uint64) *uint64 { return &v }

func TestSinceReturnsGapInOrder(t *testing.T) {
	ob := New(DefaultConfig(), nil)
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, ob.Append(ctx, env(i, nil), ""))
	}
	got, snapshotRequired := ob.Since(2)
	require.False(t, snapshotRequired)
	require.Len(t, got, 3)
	require.Equal(t, uint64(3), got[0].GlobalSeq)
	require.Equal(t, uint64(4), got[1].GlobalSeq)
	require.Equal(t, uint64(5), got[2].GlobalSeq)
}

func TestSinceSnapshotRequiredOutsideWindow(t *testing.T) {
	ob := New(Config{GlobalCapacity: 3, PerPlaylistCap: 3}, nil)
	ctx := context.Background()
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, ob.Append(ctx, env(i, nil), ""))
	}
	// Window now only retains seq 8,9,10.
	_, snapshotRequired := ob.Since(1)
	require.True(t, snapshotRequired)

	got, snapshotRequired := ob.Since(8)
	require.False(t, snapshotRequired)
	require.Len(t, got, 2)
}

func TestSincePlaylistIndependentOfGlobal(t *testing.T) {
	ob := New(DefaultConfig(), nil)
	ctx := context.Background()
	require.NoError(t, ob.Append(ctx, env(1, u64(1)), "p1"))
	require.NoError(t, ob.Append(ctx, env(2, nil), ""))
	require.NoError(t, ob.Append(ctx, env(3, u64(2)), "p1"))

	got, snapshotRequired := ob.SincePlaylist("p1", 0)
	require.False(t, snapshotRequired)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), *got[0].PlaylistSeq)
	require.Equal(t, uint64(2), *got[1].PlaylistSeq)

	_, snapshotRequired = ob.SincePlaylist("unknown-playlist", 0)
	require.False(t, snapshotRequired)
	_, snapshotRequired = ob.SincePlaylist("unknown-playlist", 5)
	require.True(t, snapshotRequired)
}

func TestRecoverMaxPersistedSeq(t *testing.T) {
	store := memstore.New()
	ob := New(DefaultConfig(), store)
	ctx := context.Background()
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, ob.Append(ctx, env(i, nil), ""))
	}
	max, err := ob.RecoverMaxPersistedSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), max)
}
