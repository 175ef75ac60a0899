// Package store holds the aggregate audio state of one open document.
package store

import (
	"slices"
	"sync"

	"github.com/dgnsrekt/narrate/tts"
)

// Listener is called after every mutation with the new snapshot.
type Listener func(state tts.AudioState)

// Store is an observable container for tts.AudioState. Every mutation
// replaces the snapshot wholesale and notifies listeners synchronously.
type Store struct {
	mu    sync.RWMutex
	state tts.AudioState

	// Listeners
	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64

	// Serializes Update so notifications are delivered in mutation order.
	updateMu sync.Mutex
}

// New creates a store holding the initial state.
func New(initial tts.AudioState) *Store {
	return &Store{
		state:     initial.Clone(),
		listeners: make(map[uint64]Listener),
	}
}

// State returns the current snapshot. Callers must treat it as read-only;
// slices and maps are shared with the store.
func (s *Store) State() tts.AudioState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn to a private copy of the state, publishes the copy and
// notifies listeners before returning. Listeners may read the store but must
// not call Update re-entrantly.
func (s *Store) Update(fn func(*tts.AudioState)) tts.AudioState {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.RLock()
	next := s.state.Clone()
	s.mu.RUnlock()

	fn(&next)

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	for _, l := range s.snapshotListeners() {
		l(next)
	}
	return next
}

// Subscribe registers a change listener. The returned subscription must be
// released with Unsubscribe.
func (s *Store) Subscribe(l Listener) *Subscription {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return &Subscription{store: s, id: id}
}

// Len returns the number of registered listeners.
func (s *Store) Len() int {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	return len(s.listeners)
}

func (s *Store) snapshotListeners() []Listener {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	store *Store
	id    uint64
	once  sync.Once
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.listenersMu.Lock()
		delete(sub.store.listeners, sub.id)
		sub.store.listenersMu.Unlock()
	})
}
