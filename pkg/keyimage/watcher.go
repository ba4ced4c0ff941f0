package keyimage

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

var (
	// ErrKeyImageNotTracked is returned when removing a key image that was
	// never added.
	ErrKeyImageNotTracked = errors.New("key image is not tracked")
	// ErrListenerNotFound is returned when removing a listener that is not
	// registered.
	ErrListenerNotFound = errors.New("listener is not registered")
)

// StatusChange announces that the spent status of one key image differs from
// the previous poll.
type StatusChange struct {
	KeyImage string
	Status   ports.SpentStatus
}

// Listener receives delta-only spent-status notifications.
type Listener interface {
	OnSpentStatusChanged(changes []StatusChange)
}

// Opts defines the parameters for creating a watcher with NewWatcher.
type Opts struct {
	Daemon                 ports.DaemonClient
	IntervalInMilliseconds int
	// RequestsPerSecond bounds daemon calls; zero means 1 rps.
	RequestsPerSecond float64
}

// Watcher polls the spent status of a set of key images and notifies
// listeners of deltas. The poll timer runs exactly while at least one
// listener is registered, so idle trades impose zero daemon load.
type Watcher struct {
	mtx       sync.Mutex
	daemon    ports.DaemonClient
	interval  time.Duration
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	images    map[string]ports.SpentStatus
	listeners []Listener
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewWatcher returns a watcher ready to track key images. The timer starts
// with the first listener.
func NewWatcher(opts Opts) *Watcher {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Watcher{
		daemon:   opts.Daemon,
		interval: time.Duration(opts.IntervalInMilliseconds) * time.Millisecond,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "keyimage",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests > 10 && ratio >= 0.6
			},
		}),
		images: make(map[string]ports.SpentStatus),
	}
}

// AddKeyImage starts tracking a key image. Duplicate adds are no-ops. New
// images are assumed unspent until the first poll observes otherwise.
func (w *Watcher) AddKeyImage(keyImage string) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if _, ok := w.images[keyImage]; ok {
		return
	}
	w.images[keyImage] = ports.SpentStatusUnspent
}

// RemoveKeyImage stops tracking a key image.
func (w *Watcher) RemoveKeyImage(keyImage string) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if _, ok := w.images[keyImage]; !ok {
		return ErrKeyImageNotTracked
	}
	delete(w.images, keyImage)
	return nil
}

// AddListener registers a listener. The poll timer is activated when the
// first listener appears.
func (w *Watcher) AddListener(l Listener) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.listeners = append(w.listeners, l)
	if len(w.listeners) == 1 {
		w.quit = make(chan struct{})
		w.wg.Add(1)
		go w.loop(w.quit)
	}
}

// RemoveListener unregisters a listener. The poll timer is deactivated when
// the last listener goes away.
func (w *Watcher) RemoveListener(l Listener) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	for i, cur := range w.listeners {
		if cur == l {
			w.listeners = append(w.listeners[:i], w.listeners[i+1:]...)
			if len(w.listeners) == 0 {
				close(w.quit)
				w.quit = nil
			}
			return nil
		}
	}
	return ErrListenerNotFound
}

// Stop deactivates the watcher regardless of registered listeners and waits
// for the poll goroutine to drain.
func (w *Watcher) Stop() {
	w.mtx.Lock()
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
		w.listeners = nil
	}
	w.mtx.Unlock()
	w.wg.Wait()
}

func (w *Watcher) loop(quit chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := w.Poll(context.Background()); err != nil {
				log.WithError(err).Warn("key image poll failed")
			}
		}
	}
}

// Poll fetches the spent status of every tracked key image in one batched
// call and notifies listeners of entries whose status changed since the
// previous poll. An empty tracked set performs no daemon call at all.
func (w *Watcher) Poll(ctx context.Context) error {
	w.mtx.Lock()
	if len(w.images) == 0 {
		w.mtx.Unlock()
		return nil
	}
	keyImages := make([]string, 0, len(w.images))
	for ki := range w.images {
		keyImages = append(keyImages, ki)
	}
	w.mtx.Unlock()

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := w.breaker.Execute(func() (interface{}, error) {
		return w.daemon.IsKeyImageSpent(ctx, keyImages)
	})
	if err != nil {
		return err
	}
	statuses := res.([]ports.SpentStatus)
	if len(statuses) != len(keyImages) {
		return errors.New("daemon returned mismatched spent status count")
	}

	w.mtx.Lock()
	changes := make([]StatusChange, 0)
	for i, ki := range keyImages {
		last, ok := w.images[ki]
		if !ok {
			// removed while the call was in flight
			continue
		}
		if statuses[i] != last {
			w.images[ki] = statuses[i]
			changes = append(changes, StatusChange{KeyImage: ki, Status: statuses[i]})
		}
	}
	listeners := make([]Listener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mtx.Unlock()

	if len(changes) == 0 {
		return nil
	}
	for _, l := range listeners {
		l.OnSpentStatusChanged(changes)
	}
	return nil
}

// TrackedCount returns how many key images are currently tracked.
func (w *Watcher) TrackedCount() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return len(w.images)
}
