package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
)

// State is the tri-state health value.
type State int32

const (
	StateUnset     State = iota // No mutating operation has completed yet (reports healthy)
	StateHealthy                // The last mutating operation succeeded
	StateUnhealthy              // The last mutating operation failed
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ErrUnhealthy is returned by Check if the last mutating operation failed.
var ErrUnhealthy = errors.New("last store operation failed")

// Tracker holds the outcome of the most recent mutating operation.
// Concurrent updates are last-writer-wins.
type Tracker struct {
	state atomic.Int32
}

// NewTracker creates a tracker in the unset state.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) MarkHealthy() {
	t.state.Store(int32(StateHealthy))
}

func (t *Tracker) MarkUnhealthy() {
	t.state.Store(int32(StateUnhealthy))
}

// Set records the outcome of an operation.
func (t *Tracker) Set(ok bool) {
	if ok {
		t.MarkHealthy()
	} else {
		t.MarkUnhealthy()
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// IsHealthy reports true unless the last mutating operation failed.
func (t *Tracker) IsHealthy() bool {
	return t.State() != StateUnhealthy
}

// Check returns ErrUnhealthy if the tracker is unhealthy.
func (t *Tracker) Check() error {
	if !t.IsHealthy() {
		return ErrUnhealthy
	}
	return nil
}

// --------------------------------------------------------------------------
// HTTP
// --------------------------------------------------------------------------

// Status is the JSON body served by Handler.
type Status struct {
	Healthy bool   `json:"healthy"`
	State   string `json:"state"`
}

// Handler serves the tracker state for liveness probes:
// 200 if healthy (or unset), 503 otherwise.
func Handler(t *Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := Status{Healthy: t.IsHealthy(), State: t.State().String()}
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
