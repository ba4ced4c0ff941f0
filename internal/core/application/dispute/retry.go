package dispute

import (
	"sync"
	"time"
)

// RetryDelay is how long a dispute-closed message waits before re-applying
// itself when its trade or dispute does not exist locally yet.
var RetryDelay = 2 * time.Second

// retryTable schedules one-shot re-application timers keyed by message uid.
// A second schedule for a uid already pending is a no-op, so redelivery can
// never fan out into unbounded duplicate timers.
type retryTable struct {
	mtx     sync.Mutex
	pending map[string]*time.Timer
}

func newRetryTable() *retryTable {
	return &retryTable{pending: make(map[string]*time.Timer)}
}

// schedule arms a timer for uid unless one is already pending. It returns
// whether a new timer was armed. The entry is removed right before fn runs,
// so a still-failing fn may schedule again.
func (r *retryTable) schedule(uid string, fn func()) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.pending[uid]; ok {
		return false
	}
	r.pending[uid] = time.AfterFunc(RetryDelay, func() {
		r.mtx.Lock()
		delete(r.pending, uid)
		r.mtx.Unlock()
		fn()
	})
	return true
}

// cancel drops a pending timer, if any.
func (r *retryTable) cancel(uid string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if timer, ok := r.pending[uid]; ok {
		timer.Stop()
		delete(r.pending, uid)
	}
}

// pendingCount reports how many retries are armed.
func (r *retryTable) pendingCount() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.pending)
}

// stop cancels every pending timer.
func (r *retryTable) stop() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for uid, timer := range r.pending {
		timer.Stop()
		delete(r.pending, uid)
	}
}
