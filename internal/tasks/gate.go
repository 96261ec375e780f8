package tasks

import "sync/atomic"

// Gate admits one holder at a time and turns everyone else away immediately.
//
// The device stops answering when status requests overlap, so the orchestrator holds a single
// Gate around every status poll. Callers that fail [Gate.TryAcquire] drop their work; nothing
// queues.
type Gate struct {
	held atomic.Bool
}

// TryAcquire takes the gate if it is free.
func (g *Gate) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release frees the gate.
func (g *Gate) Release() {
	g.held.Store(false)
}

// Held reports whether someone holds the gate.
func (g *Gate) Held() bool {
	return g.held.Load()
}
