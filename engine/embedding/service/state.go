package service

import "sync/atomic"

// State is the embedding service lifecycle position.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

// transition moves from one state to another and reports whether it happened.
func (b *stateBox) transition(from, to State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}
