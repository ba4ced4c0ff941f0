package trade

import "sync"

// dispatcher serializes tasks per key while letting different keys progress
// in parallel. One logical queue is bound per trade id so a slow trade never
// blocks unrelated trades.
type dispatcher struct {
	mtx    sync.Mutex
	queues map[string]*taskQueue
	wg     sync.WaitGroup
}

type taskQueue struct {
	pending []func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{queues: make(map[string]*taskQueue)}
}

// Dispatch enqueues a task for the given key. Tasks of one key run strictly
// in enqueue order, one at a time.
func (d *dispatcher) Dispatch(key string, task func()) {
	d.mtx.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = &taskQueue{}
		d.queues[key] = q
	}
	q.pending = append(q.pending, task)
	if !ok {
		d.wg.Add(1)
		go d.drain(key, q)
	}
	d.mtx.Unlock()
}

// Wait blocks until every queue is drained. Used on shutdown and by tests.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

func (d *dispatcher) drain(key string, q *taskQueue) {
	defer d.wg.Done()
	for {
		d.mtx.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, key)
			d.mtx.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		d.mtx.Unlock()

		task()
	}
}
