package pubsub

import (
	"errors"
	"sync"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

// ErrSubscriberNotFound is returned when unsubscribing an unknown id.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// Service is an in-process fan-out of the fire-and-forget notifications
// produced by the trade core. Subscribers get no delivery guarantee and are
// never awaited.
type Service struct {
	mtx    sync.RWMutex
	nextId int
	subs   map[int]func(ports.Event)
}

func NewService() *Service {
	return &Service{subs: make(map[int]func(ports.Event))}
}

// Subscribe registers a callback and returns its subscription id.
func (s *Service) Subscribe(fn func(ports.Event)) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.nextId++
	s.subs[s.nextId] = fn
	return s.nextId
}

// Unsubscribe removes a subscription.
func (s *Service) Unsubscribe(id int) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.subs[id]; !ok {
		return ErrSubscriberNotFound
	}
	delete(s.subs, id)
	return nil
}

// Publish delivers the event to every subscriber without blocking the
// caller.
func (s *Service) Publish(event ports.Event) {
	s.mtx.RLock()
	subs := make([]func(ports.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mtx.RUnlock()

	for _, fn := range subs {
		go fn(event)
	}
}
