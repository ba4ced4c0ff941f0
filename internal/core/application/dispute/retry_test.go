package dispute

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryTableArmsOneTimerPerUid(t *testing.T) {
	t.Parallel()

	restore := RetryDelay
	RetryDelay = 20 * time.Millisecond
	t.Cleanup(func() { RetryDelay = restore })

	table := newRetryTable()
	t.Cleanup(table.stop)

	var fired atomic.Int32
	require.True(t, table.schedule("uid1", func() { fired.Add(1) }))
	require.False(t, table.schedule("uid1", func() { fired.Add(1) }))
	require.Equal(t, 1, table.pendingCount())

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, table.pendingCount())

	// uid is free again once its timer has fired
	require.True(t, table.schedule("uid1", func() { fired.Add(1) }))
}

func TestRetryTableCancel(t *testing.T) {
	t.Parallel()

	restore := RetryDelay
	RetryDelay = 20 * time.Millisecond
	t.Cleanup(func() { RetryDelay = restore })

	table := newRetryTable()
	var fired atomic.Int32
	table.schedule("uid1", func() { fired.Add(1) })
	table.cancel("uid1")
	require.Zero(t, table.pendingCount())

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, fired.Load())
}
