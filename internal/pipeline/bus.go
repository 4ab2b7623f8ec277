package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// Domain events published by the synchronizer. Sibling views (an
// applications list, a team aggregate) subscribe and patch or invalidate
// their own caches, so no mutation needs hard-coded knowledge of which
// other caches exist.

// RatingChanged is published after a successful rating update.
type RatingChanged struct {
	ApplicantID uuid.UUID
	Value       int
}

// NotesChanged is published after a successful notes update.
type NotesChanged struct {
	ApplicantID uuid.UUID
	Notes       string
}

// CandidateAdded is published after candidates are added to the pipeline.
type CandidateAdded struct {
	ApplicationIDs []uuid.UUID
}

// CandidateRemoved is published after a tracking row is deleted.
type CandidateRemoved struct {
	TrackingID uuid.UUID
}

// StageMoved is published after a successful stage move.
type StageMoved struct {
	TrackingID uuid.UUID
	Stage      string
}

// AnnotationsInvalidated is published when a realtime event on the durable
// rating or notes tables forces dependent caches to refetch.
type AnnotationsInvalidated struct{}

// Event is any of the domain events above.
type Event any

// Bus is a small synchronous fan-out. Handlers run on the publisher's
// goroutine and must be fast; anything slow should hand off internally.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers the event to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}
