package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recognition session.
type State int

const (
	// StateConnecting - Connection established, configuration not yet sent.
	StateConnecting State = iota
	// StateAwaitingResult - Configuration sent, audio streaming, reading results.
	StateAwaitingResult
	// StateFinal - A definite utterance was received.
	StateFinal
	// StateErrored - The server sent an error frame, or the session could not start.
	StateErrored
	// StateTimedOut - No frame arrived within the receive timeout.
	StateTimedOut
	// StateConnectionClosed - The connection was closed before a definite result.
	StateConnectionClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingResult:
		return "AWAITING_RESULT"
	case StateFinal:
		return "FINAL"
	case StateErrored:
		return "ERRORED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateConnectionClosed:
		return "CONNECTION_CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the session can no longer change state.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinal, StateErrored, StateTimedOut, StateConnectionClosed:
		return true
	}
	return false
}

// Errors for invalid state transitions.
var (
	ErrSessionEnded      = errors.New("session already ended")
	ErrNotTerminal       = errors.New("state is not terminal")
	ErrAlreadyStreaming  = errors.New("session already streaming")
	ErrResultBeforeStart = errors.New("result state reached before streaming started")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → AWAITING_RESULT → FINAL | ERRORED | TIMED_OUT | CONNECTION_CLOSED
//	     │
//	     └── ERRORED | CONNECTION_CLOSED (session could not start)
//
// The first terminal state wins; later transitions fail with ErrSessionEnded.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new session lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Begin transitions CONNECTING to AWAITING_RESULT once the configuration
// frame has been sent. It fails with ErrAlreadyStreaming when called twice
// and with ErrSessionEnded after a terminal state.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateAwaitingResult
		return nil
	case StateAwaitingResult:
		return ErrAlreadyStreaming
	default:
		return ErrSessionEnded
	}
}

// Finish transitions to the terminal state to.
func (l *Lifecycle) Finish(to State) error {
	if !to.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, to)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.state.IsTerminal():
		return ErrSessionEnded
	case l.state == StateConnecting && (to == StateFinal || to == StateTimedOut):
		return ErrResultBeforeStart
	}
	l.state = to
	return nil
}
