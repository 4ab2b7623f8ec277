package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

type guardState int

const (
	guardIdle guardState = iota
	guardMutating
)

// mutationGuard is the explicit state machine that suspends realtime
// reconciliation while a stage-move mutation is in flight. Without it, a
// teammate's unrelated patch event arriving mid-drag could visually
// override the local optimistic state before the mutation settles.
type mutationGuard struct {
	mu         sync.Mutex
	state      guardState
	mutationID uuid.UUID
}

// begin transitions to MutationInFlight and returns the mutation id the
// caller must hand back to end. Nested begins stack on the latest id.
func (g *mutationGuard) begin() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = guardMutating
	g.mutationID = uuid.New()
	return g.mutationID
}

// end returns to Idle, but only for the mutation that most recently began;
// a stale end from an earlier overlapping mutation is a no-op.
func (g *mutationGuard) end(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == guardMutating && g.mutationID == id {
		g.state = guardIdle
		g.mutationID = uuid.Nil
	}
}

// active reports whether a mutation is in flight.
func (g *mutationGuard) active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == guardMutating
}
