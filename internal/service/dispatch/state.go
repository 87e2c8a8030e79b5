// Package dispatch periodically consolidates the live transcript and submits it to the evaluator.
package dispatch

import (
	"errors"
	"fmt"
)

// State is the scheduler's dispatch state.
//
// State transitions:
//
//	IDLE ──tick/stop──→ DISPATCHING ──done──→ IDLE
//	                         │
//	                         └──done, cooldown > 0──→ COOLDOWN ──expired──→ IDLE
//
// Rules:
//   - IDLE: an attempt may start.
//   - DISPATCHING: at most one at a time; overlapping attempts are rejected, never queued.
//   - COOLDOWN: periodic and manual attempts are rejected until the window expires.
//     The final dispatch at stop ignores cooldown.
type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateCooldown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDispatching:
		return "DISPATCHING"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// Trigger names what started a dispatch attempt.
type Trigger string

const (
	TriggerTick   Trigger = "tick"
	TriggerManual Trigger = "manual"
	TriggerFinal  Trigger = "final"
)

// Errors returned by the scheduler.
var (
	// ErrBusy - another dispatch is in flight or cooldown is active. Not a failure.
	ErrBusy = errors.New("dispatch already in progress")
	// ErrStopped - the scheduler has run its final dispatch.
	ErrStopped = errors.New("dispatch scheduler stopped")
	// ErrVersionNotIncreasing - the evaluator returned a version at or below the last accepted one.
	ErrVersionNotIncreasing = errors.New("transcript version not strictly increasing")
)
