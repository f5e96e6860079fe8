package agent

import (
	"time"

	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/location"
)

// RelayStatus describes the most recent relay run.
type RelayStatus struct {
	AttemptID string    `json:"attempt_id"`
	At        time.Time `json:"at"`
	Container string    `json:"container,omitempty"`
	Object    string    `json:"object"`
	Failed    string    `json:"failed_step,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Status is a point-in-time view of the loop.
type Status struct {
	StartedAt      time.Time            `json:"started_at"`
	Frames         uint64               `json:"frames"`
	LastFrame      uint64               `json:"last_frame"`
	Events         int                  `json:"events"`
	TrackedClasses int                  `json:"tracked_classes"`
	Location       location.Coordinates `json:"location"`
	LastSighting   *debounce.Sighting   `json:"last_sighting,omitempty"`
	RelayEnabled   bool                 `json:"relay_enabled"`
	Reachable      bool                 `json:"reachable"`
	LastRelay      *RelayStatus         `json:"last_relay,omitempty"`
}

// Status returns a copy of the current loop status.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.status
	if s.LastSighting != nil {
		sighting := *s.LastSighting
		s.LastSighting = &sighting
	}
	if s.LastRelay != nil {
		rs := *s.LastRelay
		s.LastRelay = &rs
	}
	return s
}

// Tracks returns the debouncer's per-class state.
func (a *Agent) Tracks() []debounce.ClassTrackState {
	return a.deps.Debouncer.Snapshot()
}
