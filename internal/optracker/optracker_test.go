package optracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
)

func TestRegisterFreshThenDuplicateReplaysTerminal(t *testing.T) {
	tr := New(DefaultTTL)
	res := tr.Register("sess1", "op-1")
	require.True(t, res.Fresh)

	tr.Complete("sess1", "op-1", map[string]string{"ok": "yes"})

	res2 := tr.Register("sess1", "op-1")
	require.False(t, res2.Fresh)
	require.NotNil(t, res2.Replay)
	require.Equal(t, StatusAcked, res2.Replay.Status)
}

func TestRegisterPendingDuplicateDoesNotReexecute(t *testing.T) {
	tr := New(DefaultTTL)
	tr.Register("sess1", "op-1")
	res := tr.Register("sess1", "op-1")
	require.False(t, res.Fresh)
	require.True(t, res.Pending)
}

func TestCompleteUnknownOperationReturnsNil(t *testing.T) {
	tr := New(DefaultTTL)
	rec := tr.Complete("sess1", "never-registered", nil)
	require.Nil(t, rec)
}

func TestDifferentSessionsIndependent(t *testing.T) {
	tr := New(DefaultTTL)
	res1 := tr.Register("sessA", "op-1")
	res2 := tr.Register("sessB", "op-1")
	require.True(t, res1.Fresh)
	require.True(t, res2.Fresh)
}

func TestEvictionAfterTTL(t *testing.T) {
	tr := New(20 * time.Millisecond)
	tr.Register("sess1", "op-1")
	tr.Complete("sess1", "op-1", "done")
	time.Sleep(40 * time.Millisecond)

	// Trigger eviction sweep via another Register call.
	tr.Register("sess1", "op-2")
	_, ok := tr.Lookup("sess1", "op-1")
	require.False(t, ok)
}

func TestRunCompletesNormallyWithinAckTimeout(t *testing.T) {
	tr := New(DefaultTTL)
	tr.Register("sess1", "op-1")

	data, err := tr.Run("sess1", "op-1", time.Second, func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", data)

	rec, ok := tr.Lookup("sess1", "op-1")
	require.True(t, ok)
	require.Equal(t, StatusAcked, rec.Status)
}

func TestRunSurfacesTimeoutAndDiscardsLateResult(t *testing.T) {
	tr := New(DefaultTTL)
	tr.Register("sess1", "op-1")

	started := make(chan struct{})
	data, err := tr.Run("sess1", "op-1", 5*time.Millisecond, func() (interface{}, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	<-started
	require.Nil(t, data)
	require.Error(t, err)
	require.Equal(t, apperr.KindTimeout, apperr.KindOf(err))

	rec, ok := tr.Lookup("sess1", "op-1")
	require.True(t, ok)
	require.Equal(t, StatusErrored, rec.Status)

	require.Eventually(t, func() bool {
		_, ok := tr.Lookup("sess1", "op-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
