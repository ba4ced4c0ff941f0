package keyimage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

type mockDaemon struct {
	mtx      sync.Mutex
	calls    int
	statuses map[string]ports.SpentStatus
}

func newMockDaemon() *mockDaemon {
	return &mockDaemon{statuses: make(map[string]ports.SpentStatus)}
}

func (m *mockDaemon) IsKeyImageSpent(
	_ context.Context, keyImages []string,
) ([]ports.SpentStatus, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.calls++
	res := make([]ports.SpentStatus, 0, len(keyImages))
	for _, ki := range keyImages {
		res = append(res, m.statuses[ki])
	}
	return res, nil
}

func (m *mockDaemon) GetHeight(_ context.Context) (uint64, error) {
	return 100, nil
}

func (m *mockDaemon) callCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.calls
}

func (m *mockDaemon) setStatus(ki string, status ports.SpentStatus) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.statuses[ki] = status
}

type recordingListener struct {
	mtx     sync.Mutex
	batches [][]StatusChange
}

func (l *recordingListener) OnSpentStatusChanged(changes []StatusChange) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.batches = append(l.batches, changes)
}

func (l *recordingListener) all() [][]StatusChange {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.batches
}

func newTestWatcher(daemon *mockDaemon) *Watcher {
	return NewWatcher(Opts{
		Daemon:                 daemon,
		IntervalInMilliseconds: 10,
		RequestsPerSecond:      1000,
	})
}

func TestPollWithEmptySetIssuesNoCall(t *testing.T) {
	t.Parallel()

	daemon := newMockDaemon()
	watcher := newTestWatcher(daemon)

	require.NoError(t, watcher.Poll(context.Background()))
	require.Zero(t, daemon.callCount())
}

func TestPollEmitsOnlyDeltas(t *testing.T) {
	t.Parallel()

	daemon := newMockDaemon()
	watcher := newTestWatcher(daemon)
	listener := &recordingListener{}
	watcher.AddListener(listener)
	defer watcher.Stop()

	watcher.AddKeyImage("ki1")
	watcher.AddKeyImage("ki2")

	// nothing spent yet: no notification
	require.NoError(t, watcher.Poll(context.Background()))
	require.Empty(t, listener.all())

	daemon.setStatus("ki1", ports.SpentStatusConfirmed)
	require.NoError(t, watcher.Poll(context.Background()))

	batches := listener.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	require.Equal(t, "ki1", batches[0][0].KeyImage)
	require.Equal(t, ports.SpentStatusConfirmed, batches[0][0].Status)

	// unchanged status: no further notification
	require.NoError(t, watcher.Poll(context.Background()))
	require.Len(t, listener.all(), 1)
}

func TestDuplicateAddIsNoop(t *testing.T) {
	t.Parallel()

	watcher := newTestWatcher(newMockDaemon())
	watcher.AddKeyImage("ki1")
	watcher.AddKeyImage("ki1")
	require.Equal(t, 1, watcher.TrackedCount())
}

func TestRemoveUntrackedKeyImageFails(t *testing.T) {
	t.Parallel()

	watcher := newTestWatcher(newMockDaemon())
	require.ErrorIs(t, watcher.RemoveKeyImage("unknown"), ErrKeyImageNotTracked)

	watcher.AddKeyImage("ki1")
	require.NoError(t, watcher.RemoveKeyImage("ki1"))
	require.ErrorIs(t, watcher.RemoveKeyImage("ki1"), ErrKeyImageNotTracked)
}

func TestRemoveUnknownListenerFails(t *testing.T) {
	t.Parallel()

	watcher := newTestWatcher(newMockDaemon())
	require.ErrorIs(t, watcher.RemoveListener(&recordingListener{}), ErrListenerNotFound)
}

func TestTimerRunsOnlyWhileObserved(t *testing.T) {
	t.Parallel()

	daemon := newMockDaemon()
	watcher := newTestWatcher(daemon)
	watcher.AddKeyImage("ki1")

	// no listener registered: no polling happens
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, daemon.callCount())

	listener := &recordingListener{}
	watcher.AddListener(listener)
	require.Eventually(t, func() bool {
		return daemon.callCount() > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, watcher.RemoveListener(listener))
	calls := daemon.callCount()
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, daemon.callCount(), calls+1)
}
