// Package debounce turns the per-frame detection stream into sparse sighting
// events.
//
// Each class id is tracked independently. A class has to be seen with
// sufficient confidence for a continuous dwell period before a sighting is
// confirmed, and consecutive confirmations of the same class are at least a
// cooldown apart. Classes that disappear for longer than the eviction TTL are
// forgotten, except for an unexpired cooldown.
package debounce

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/wildwatch-go/internal/detection"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/location"
)

// Phase is the tracking phase of one class. Confirmation is an event, not a
// resting phase: a confirmed class is Pending again in the same frame and
// LastConfirmedAt records the confirmation.
type Phase int

const (
	PhaseAbsent Phase = iota
	PhasePending
)

func (p Phase) String() string {
	if p == PhasePending {
		return "pending"
	}
	return "absent"
}

// MarshalText renders the phase by name in JSON status output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Status is the per-frame verdict for one detection or class.
type Status string

const (
	StatusIgnored         Status = "ignored"          // below the confidence threshold
	StatusPending         Status = "pending"          // dwell not yet reached
	StatusWaitingCooldown Status = "waiting_cooldown" // dwell reached, cooldown still running
	StatusConfirmed       Status = "confirmed"        // sighting emitted this frame
)

// Namer resolves class ids to display names.
type Namer interface {
	Name(classID int) string
}

// Config holds the debouncing parameters.
type Config struct {
	Threshold  float64       // minimum confidence, inclusive
	Dwell      time.Duration // continuous presence required before confirming
	Cooldown   time.Duration // minimum spacing between confirmations of one class
	EvictAfter time.Duration // absence after which tracking resets; 0 never resets
}

// Validate checks the parameter ranges.
func (c *Config) Validate() error {
	switch {
	case c.Threshold < 0 || c.Threshold > 1:
		return fmt.Errorf("threshold %g outside [0,1]", c.Threshold)
	case c.Dwell < 0:
		return fmt.Errorf("dwell %s is negative", c.Dwell)
	case c.Cooldown < 0:
		return fmt.Errorf("cooldown %s is negative", c.Cooldown)
	case c.EvictAfter < 0:
		return fmt.Errorf("evict_after %s is negative", c.EvictAfter)
	}
	return nil
}

// ClassTrackState is a snapshot of one tracked class.
type ClassTrackState struct {
	ClassID         int       `json:"class_id"`
	ClassName       string    `json:"class_name"`
	Phase           Phase     `json:"phase"`
	FirstSeenAt     time.Time `json:"first_seen_at,omitzero"`
	LastSeenAt      time.Time `json:"last_seen_at,omitzero"`
	LastConfirmedAt time.Time `json:"last_confirmed_at,omitzero"`
}

// Sighting is a confirmed, persisted-worthy observation.
type Sighting struct {
	Timestamp  time.Time            `json:"timestamp"`
	ClassID    int                  `json:"class_id"`
	ClassName  string               `json:"class_name"`
	Confidence float64              `json:"confidence"`
	Box        detection.Box        `json:"box"`
	Location   location.Coordinates `json:"location"`
}

// Outcome describes what happened to one detection or class in a frame.
type Outcome struct {
	ClassID    int
	ClassName  string
	Confidence float64
	Status     Status
	Present    time.Duration // time since the class entered the pending phase
	Remaining  time.Duration // time left until dwell or cooldown is satisfied
}

// Report is the result of observing one frame.
type Report struct {
	Frame     uint64
	Outcomes  []Outcome
	Sightings []Sighting
}

// Debouncer holds per-class tracking state. It is safe for concurrent use;
// Observe is expected to be called from a single loop while status readers
// call Snapshot.
type Debouncer struct {
	mu     sync.Mutex
	cfg    Config
	namer  Namer
	tracks map[int]*ClassTrackState
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithNamer sets the class name resolver.
func WithNamer(n Namer) Option {
	return func(d *Debouncer) { d.namer = n }
}

// New creates a Debouncer.
func New(cfg Config, opts ...Option) (*Debouncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(err).
			Component("debounce").
			Category(errors.CategoryConfiguration).
			Build()
	}

	d := &Debouncer{
		cfg:    cfg,
		tracks: make(map[int]*ClassTrackState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the active parameters.
func (d *Debouncer) Config() Config {
	return d.cfg
}

func (d *Debouncer) name(classID int) string {
	if d.namer == nil {
		return fmt.Sprintf("class_%d", classID)
	}
	return d.namer.Name(classID)
}

// Observe processes one frame observed at now with the device at loc.
//
// Detections below the threshold are reported as ignored and leave state
// untouched. Of several accepted detections of one class only the most
// confident counts, so a class confirms at most once per frame.
func (d *Debouncer) Observe(now time.Time, batch detection.Batch, loc location.Coordinates) Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked(now)

	report := Report{Frame: batch.Frame}

	var order []int
	best := make(map[int]detection.RawDetection)
	for _, det := range batch.Detections {
		if det.Confidence < d.cfg.Threshold {
			report.Outcomes = append(report.Outcomes, Outcome{
				ClassID:    det.ClassID,
				ClassName:  d.name(det.ClassID),
				Confidence: det.Confidence,
				Status:     StatusIgnored,
			})
			continue
		}
		prev, seen := best[det.ClassID]
		if !seen {
			order = append(order, det.ClassID)
		}
		if !seen || det.Confidence > prev.Confidence {
			best[det.ClassID] = det
		}
	}

	for _, classID := range order {
		outcome, sighting := d.advanceLocked(now, best[classID], loc)
		report.Outcomes = append(report.Outcomes, outcome)
		if sighting != nil {
			report.Sightings = append(report.Sightings, *sighting)
		}
	}

	return report
}

// advanceLocked moves one class through the state machine
func (d *Debouncer) advanceLocked(now time.Time, det detection.RawDetection, loc location.Coordinates) (Outcome, *Sighting) {
	track, ok := d.tracks[det.ClassID]
	if !ok {
		track = &ClassTrackState{ClassID: det.ClassID, ClassName: d.name(det.ClassID)}
		d.tracks[det.ClassID] = track
	}
	if track.Phase == PhaseAbsent {
		track.Phase = PhasePending
		track.FirstSeenAt = now
	}
	track.LastSeenAt = now

	outcome := Outcome{
		ClassID:    det.ClassID,
		ClassName:  track.ClassName,
		Confidence: det.Confidence,
		Present:    now.Sub(track.FirstSeenAt),
	}

	if outcome.Present < d.cfg.Dwell {
		outcome.Status = StatusPending
		outcome.Remaining = d.cfg.Dwell - outcome.Present
		return outcome, nil
	}

	if !track.LastConfirmedAt.IsZero() {
		if sinceConfirmed := now.Sub(track.LastConfirmedAt); sinceConfirmed < d.cfg.Cooldown {
			outcome.Status = StatusWaitingCooldown
			outcome.Remaining = d.cfg.Cooldown - sinceConfirmed
			return outcome, nil
		}
	}

	// Confirmation restarts the dwell window at the confirmation instant
	track.LastConfirmedAt = now
	track.FirstSeenAt = now

	outcome.Status = StatusConfirmed
	return outcome, &Sighting{
		Timestamp:  now.UTC(),
		ClassID:    det.ClassID,
		ClassName:  track.ClassName,
		Confidence: det.Confidence,
		Box:        det.Box,
		Location:   loc,
	}
}

// evictLocked resets classes that have been absent longer than the TTL
func (d *Debouncer) evictLocked(now time.Time) {
	if d.cfg.EvictAfter <= 0 {
		return
	}

	for id, track := range d.tracks {
		if track.Phase != PhaseAbsent && now.Sub(track.LastSeenAt) <= d.cfg.EvictAfter {
			continue
		}

		cooling := !track.LastConfirmedAt.IsZero() && now.Sub(track.LastConfirmedAt) < d.cfg.Cooldown
		if cooling {
			track.Phase = PhaseAbsent
			track.FirstSeenAt = time.Time{}
			continue
		}
		delete(d.tracks, id)
	}
}

// Snapshot returns the tracked classes ordered by class id.
func (d *Debouncer) Snapshot() []ClassTrackState {
	d.mu.Lock()
	defer d.mu.Unlock()

	states := make([]ClassTrackState, 0, len(d.tracks))
	for _, track := range d.tracks {
		states = append(states, *track)
	}
	slices.SortFunc(states, func(a, b ClassTrackState) int { return a.ClassID - b.ClassID })
	return states
}

// Reset forgets all tracking state.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.tracks)
}
