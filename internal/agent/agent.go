// Package agent runs the detection loop: it pulls frames from the detection
// source, debounces them into sightings, appends sightings to the event store
// and relays the store whenever the sink is reachable.
package agent

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/wildwatch-go/internal/connectivity"
	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/detection"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/eventstore"
	"github.com/tphakala/wildwatch-go/internal/location"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/relay"
)

// DefaultLoopInterval is the pause between iterations when none is configured.
const DefaultLoopInterval = time.Second

// Store is the part of the event store the loop writes to.
type Store interface {
	Append(ev *eventstore.Event) error
	Count() int
}

// Relayer delivers the store to the remote sink.
type Relayer interface {
	Due() bool
	Run(ctx context.Context, force bool) relay.Result
}

// Notifier receives confirmed sightings. Notify must not block.
type Notifier interface {
	Notify(s debounce.Sighting)
	Run(ctx context.Context) error
}

// DetectionRecorder receives per-frame detection outcomes.
type DetectionRecorder interface {
	RecordFrame()
	RecordFrameError()
	RecordDetection(class, status string)
	RecordSighting(class string, unixSeconds float64)
	SetTrackedClasses(n int)
}

// StoreRecorder receives append outcomes.
type StoreRecorder interface {
	RecordAppend(err error, seconds float64, events int)
}

// Deps are the collaborators of the loop. Relay and Monitor are both set or
// both nil; Notifier and the recorders are optional.
type Deps struct {
	Source    detection.Source
	Location  location.Provider
	Debouncer *debounce.Debouncer
	Store     Store
	Monitor   connectivity.Monitor
	Relay     Relayer
	Notifier  Notifier

	DetectionRecorder DetectionRecorder
	StoreRecorder     StoreRecorder
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures an Agent.
type Option func(*Agent)

// WithClock injects the time source passed to the debouncer.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithSleep replaces the pause between iterations.
func WithSleep(sleep SleepFunc) Option {
	return func(a *Agent) { a.sleep = sleep }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// GetLogger returns the module logger for the agent
func GetLogger() logger.Logger {
	return logger.Global().Module("agent")
}

// Agent owns the loop state. Status and Tracks may be called from other
// goroutines while Run is active.
type Agent struct {
	deps     Deps
	interval time.Duration
	now      func() time.Time
	sleep    SleepFunc
	log      logger.Logger

	mu     sync.RWMutex
	status Status
}

// New validates deps and creates an agent that pauses interval between
// iterations.
func New(deps Deps, interval time.Duration, opts ...Option) (*Agent, error) {
	switch {
	case deps.Source == nil, deps.Location == nil, deps.Debouncer == nil, deps.Store == nil:
		return nil, errors.Newf("agent requires a source, a location provider, a debouncer and a store").
			Component("agent").
			Category(errors.CategoryConfiguration).
			Build()
	case (deps.Relay == nil) != (deps.Monitor == nil):
		return nil, errors.Newf("relay and connectivity monitor must be configured together").
			Component("agent").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if interval <= 0 {
		interval = DefaultLoopInterval
	}

	a := &Agent{
		deps:     deps,
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.status.StartedAt = a.now().UTC()
	a.status.RelayEnabled = deps.Relay != nil
	a.status.Events = deps.Store.Count()
	return a, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errStreamEnded stops the loop cleanly when the source is exhausted
var errStreamEnded = errors.NewStd("detection stream ended")

// Run drives the loop until ctx is cancelled, the source ends, or a critical
// error occurs. Cancellation and end of stream return nil.
func (a *Agent) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if a.deps.Notifier != nil {
		g.Go(func() error { return a.deps.Notifier.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return a.loop(gctx)
	})

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, errStreamEnded):
		return nil
	case parent.Err() != nil && errors.Is(err, parent.Err()):
		return nil
	default:
		a.log.Error("agent stopped on critical error", logger.Error(err))
		return err
	}
}

func (a *Agent) loop(ctx context.Context) error {
	a.log.Info("starting real-time detection",
		logger.Duration("loop_interval", a.interval),
		logger.Bool("relay_enabled", a.deps.Relay != nil))

	for {
		if err := a.step(ctx); err != nil {
			if errors.Is(err, errStreamEnded) {
				a.log.Info("detection stream ended, stopping")
			}
			return err
		}
		if err := a.sleep(ctx, a.interval); err != nil {
			return err
		}
	}
}

// step runs one iteration. Only critical errors and the end of the stream
// are returned; everything else is logged and retried next iteration.
func (a *Agent) step(ctx context.Context) error {
	loc, err := a.deps.Location.Current(ctx)
	if err != nil {
		return err
	}

	batch, err := a.deps.Source.Next(ctx)
	switch {
	case err == nil:
		if a.deps.DetectionRecorder != nil {
			a.deps.DetectionRecorder.RecordFrame()
		}
		if err := a.handleBatch(batch, loc); err != nil {
			return err
		}
	case errors.Is(err, io.EOF):
		return errStreamEnded
	case errors.Is(err, detection.ErrMalformedFrame):
		a.log.Warn("skipping malformed detection frame", logger.Error(err))
		if a.deps.DetectionRecorder != nil {
			a.deps.DetectionRecorder.RecordFrameError()
		}
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return errors.New(err).
			Component("agent").
			Category(errors.CategoryDetector).
			Priority(errors.PriorityCritical).
			Context("operation", "next_frame").
			Build()
	}

	a.maybeRelay(ctx)
	return nil
}

func (a *Agent) handleBatch(batch detection.Batch, loc location.Coordinates) error {
	report := a.deps.Debouncer.Observe(a.now(), batch, loc)
	a.logOutcomes(&report)

	for i := range report.Sightings {
		s := &report.Sightings[i]
		if err := a.persist(s); err != nil {
			return err
		}
		a.log.Info(s.ClassName+" DETECTED & LOGGED",
			logger.String("class", s.ClassName),
			logger.Float64("confidence", s.Confidence),
			logger.Time("timestamp", s.Timestamp),
			logger.String("location", s.Location.String()))
		if a.deps.Notifier != nil {
			a.deps.Notifier.Notify(*s)
		}
		if a.deps.DetectionRecorder != nil {
			a.deps.DetectionRecorder.RecordSighting(s.ClassName, float64(s.Timestamp.Unix()))
		}
	}

	tracked := len(a.deps.Debouncer.Snapshot())
	if a.deps.DetectionRecorder != nil {
		a.deps.DetectionRecorder.SetTrackedClasses(tracked)
	}

	a.mu.Lock()
	a.status.Frames++
	a.status.LastFrame = batch.Frame
	a.status.Location = loc
	a.status.TrackedClasses = tracked
	if n := len(report.Sightings); n > 0 {
		a.status.Events += n
		last := report.Sightings[n-1]
		a.status.LastSighting = &last
	}
	a.mu.Unlock()
	return nil
}

func (a *Agent) logOutcomes(report *debounce.Report) {
	for _, o := range report.Outcomes {
		if a.deps.DetectionRecorder != nil {
			a.deps.DetectionRecorder.RecordDetection(o.ClassName, string(o.Status))
		}
		switch o.Status {
		case debounce.StatusIgnored:
			a.log.Info("Low-confidence detection ignored",
				logger.String("class", o.ClassName),
				logger.Float64("confidence", o.Confidence))
		case debounce.StatusPending, debounce.StatusWaitingCooldown:
			a.log.Info(o.ClassName+" detected (waiting for threshold/cooldown...)",
				logger.String("class", o.ClassName),
				logger.String("status", string(o.Status)),
				logger.Float64("confidence", o.Confidence),
				logger.Duration("remaining", o.Remaining))
		case debounce.StatusConfirmed:
			// logged once persisted
		}
	}
}

// persist appends one sighting. Failures are critical: the event log is the
// only durable record.
func (a *Agent) persist(s *debounce.Sighting) error {
	ev := EventFromSighting(s)
	start := time.Now()
	err := a.deps.Store.Append(&ev)
	if a.deps.StoreRecorder != nil {
		a.deps.StoreRecorder.RecordAppend(err, time.Since(start).Seconds(), a.deps.Store.Count())
	}
	if err != nil {
		return errors.New(err).
			Component("agent").
			Category(errors.CategoryPersistence).
			Priority(errors.PriorityCritical).
			Context("class", s.ClassName).
			Build()
	}
	return nil
}

// maybeRelay runs the relay when the interval allows and the sink answers.
func (a *Agent) maybeRelay(ctx context.Context) {
	if a.deps.Relay == nil || !a.deps.Relay.Due() {
		return
	}

	reachable := a.deps.Monitor.Reachable(ctx)
	a.mu.Lock()
	a.status.Reachable = reachable
	a.mu.Unlock()
	if !reachable {
		a.log.Debug("sink unreachable, relay deferred")
		return
	}

	res := a.deps.Relay.Run(ctx, false)
	if !res.OK() {
		connectivity.Invalidate(a.deps.Monitor)
	}
	a.recordRelay(&res)
}

func (a *Agent) recordRelay(res *relay.Result) {
	rs := RelayStatus{
		AttemptID: res.AttemptID,
		At:        a.now().UTC(),
		Container: string(res.Container),
		Object:    string(res.Object),
		Failed:    string(res.Failed),
	}
	if res.Err != nil {
		rs.Error = res.Err.Error()
	}

	a.mu.Lock()
	a.status.LastRelay = &rs
	a.mu.Unlock()
}

// EventFromSighting converts a confirmed sighting to its persisted row.
func EventFromSighting(s *debounce.Sighting) eventstore.Event {
	return eventstore.Event{
		Timestamp:  s.Timestamp,
		ClassName:  s.ClassName,
		Confidence: s.Confidence,
		Box:        s.Box,
		Location:   s.Location,
	}
}
