// Package relay synchronises the event store to a remote sink.
//
// Each run ensures the container, snapshots the store and replaces the remote
// object with the full snapshot. Re-running with unchanged content is a no-op
// thanks to a persisted content hash, and a failed run is simply retried on
// the next connectivity window. The relay never writes to the store.
package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// ContainerOutcome is the result of resolving the container.
type ContainerOutcome string

const (
	ContainerFound   ContainerOutcome = "found"
	ContainerCreated ContainerOutcome = "created"
)

// ObjectOutcome is the result of delivering the object.
type ObjectOutcome string

const (
	ObjectCreated   ObjectOutcome = "created"
	ObjectUpdated   ObjectOutcome = "updated"
	ObjectUnchanged ObjectOutcome = "unchanged"
	ObjectFailed    ObjectOutcome = "failed"
)

// Step names the protocol step that failed.
type Step string

const (
	StepNone      Step = ""
	StepContainer Step = "ensure_container"
	StepSnapshot  Step = "snapshot"
	StepVersion   Step = "get_version"
	StepUpdate    Step = "update"
	StepCreate    Step = "create"
)

// Result summarises one relay run.
type Result struct {
	AttemptID string
	Container ContainerOutcome
	Object    ObjectOutcome
	Failed    Step
	Err       error
	Size      int
	Sent      int
	Duration  time.Duration
}

// OK reports whether the run completed without error.
func (r *Result) OK() bool { return r.Err == nil }

// Source provides a consistent snapshot of the local content.
type Source interface {
	Snapshot() ([]byte, error)
}

// Recorder receives run outcomes, e.g. for metrics.
type Recorder interface {
	RecordRun(sink, outcome, step string, d time.Duration, payload, sent int)
}

// Config holds relay parameters.
type Config struct {
	Object   string        // object path inside the container
	Interval time.Duration // minimum spacing between runs; 0 runs whenever asked
	Timeout  time.Duration // bound for one run; 0 means no extra bound
}

// Relay delivers the store snapshot to a sink. Runs are serialized by the
// caller; the agent loop drives it from a single goroutine.
type Relay struct {
	cfg      Config
	sink     Sink
	source   Source
	cursor   *CursorFile
	limiter  *rate.Limiter // nil when runs are unpaced
	recorder Recorder
	now      func() time.Time
	log      logger.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithCursor persists the delivery cursor. Without it the cursor lives in
// memory, so the first run after a restart always transfers.
func WithCursor(c *CursorFile) Option {
	return func(r *Relay) { r.cursor = c }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Relay) { r.recorder = rec }
}

// WithClock injects the time source used for pacing.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// New creates a relay for sink reading from source.
func New(cfg Config, sink Sink, source Source, opts ...Option) (*Relay, error) {
	if sink == nil || source == nil {
		return nil, errors.Newf("relay requires a sink and a source").
			Component("relay").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Object == "" {
		return nil, errors.Newf("relay object path is empty").
			Component("relay").
			Category(errors.CategoryConfiguration).
			Build()
	}

	r := &Relay{
		cfg:    cfg,
		sink:   sink,
		source: source,
		cursor: NewCursorFile(""),
		now:    time.Now,
		log:    logger.Global().Module("relay"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.Interval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return r, nil
}

// Due reports whether the pacing interval allows a run now. It does not
// consume the allowance; Run does.
func (r *Relay) Due() bool {
	if r.limiter == nil {
		return true
	}
	return r.limiter.TokensAt(r.now()) >= 1
}

// Run performs one relay attempt. With force the content hash check is
// skipped and the snapshot is transferred even if unchanged. Run never
// panics on sink errors; failures are returned in the Result.
func (r *Relay) Run(ctx context.Context, force bool) Result {
	if r.limiter != nil {
		r.limiter.AllowN(r.now(), 1)
	}

	res := Result{AttemptID: uuid.NewString()}
	ctx = logger.WithTraceID(ctx, res.AttemptID)
	log := r.log.WithContext(ctx).With(
		logger.String("sink", r.sink.Name()),
		logger.String("container", r.sink.Container()),
		logger.String("object", r.cfg.Object))

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	r.run(ctx, log, force, &res)
	res.Duration = time.Since(start)

	if res.Err != nil {
		res.Object = ObjectFailed
		log.Warn("relay failed, will retry on next cycle",
			logger.String("step", string(res.Failed)),
			logger.Duration("duration", res.Duration),
			logger.Error(res.Err))
	}
	if r.recorder != nil {
		r.recorder.RecordRun(r.sink.Name(), string(res.Object), string(res.Failed), res.Duration, res.Size, res.Sent)
	}
	return res
}

func (r *Relay) run(ctx context.Context, log logger.Logger, force bool, res *Result) {
	created, err := r.sink.EnsureContainer(ctx)
	if err != nil {
		r.fail(res, StepContainer, err)
		return
	}
	if created {
		res.Container = ContainerCreated
		log.Info("container created")
	} else {
		res.Container = ContainerFound
		log.Debug("container found")
	}

	content, err := r.source.Snapshot()
	if err != nil {
		r.fail(res, StepSnapshot, err)
		return
	}
	res.Size = len(content)
	hash := contentHash(content)

	prev, err := r.cursor.Load()
	if err != nil {
		// an unreadable cursor only costs one redundant transfer
		log.Warn("ignoring unreadable relay cursor", logger.Error(err))
		prev = nil
	}
	if !force && prev != nil && prev.matches(r.sink.Name(), r.sink.Container(), r.cfg.Object) && prev.ContentHash == hash {
		res.Object = ObjectUnchanged
		log.Debug("remote object already up to date", logger.Int("bytes", len(content)))
		return
	}

	outcome, step, err := r.deliver(ctx, content)
	if err != nil {
		r.fail(res, step, err)
		return
	}
	res.Object = outcome
	res.Sent = len(content)

	switch outcome {
	case ObjectCreated:
		log.Info("remote object created", logger.Int("bytes", len(content)))
	default:
		log.Info("remote object updated", logger.Int("bytes", len(content)))
	}

	next := &Cursor{
		Sink:        r.sink.Name(),
		Container:   r.sink.Container(),
		Object:      r.cfg.Object,
		ContentHash: hash,
		Size:        len(content),
		DeliveredAt: r.now().UTC(),
	}
	if err := r.cursor.Save(next); err != nil {
		log.Warn("failed to persist relay cursor, next run will resend", logger.Error(err))
	}
}

// deliver updates the object in place or creates it when it does not exist
func (r *Relay) deliver(ctx context.Context, content []byte) (ObjectOutcome, Step, error) {
	version, err := r.sink.GetObjectVersion(ctx, r.cfg.Object)
	switch {
	case errors.Is(err, ErrObjectNotFound):
		if err := r.sink.CreateObject(ctx, r.cfg.Object, content); err != nil {
			return ObjectFailed, StepCreate, err
		}
		return ObjectCreated, StepNone, nil
	case err != nil:
		return ObjectFailed, StepVersion, err
	}

	err = r.sink.UpdateObject(ctx, r.cfg.Object, content, version)
	if errors.Is(err, ErrObjectNotFound) {
		// deleted between version lookup and update
		if err := r.sink.CreateObject(ctx, r.cfg.Object, content); err != nil {
			return ObjectFailed, StepCreate, err
		}
		return ObjectCreated, StepNone, nil
	}
	if err != nil {
		return ObjectFailed, StepUpdate, err
	}
	return ObjectUpdated, StepNone, nil
}

func (r *Relay) fail(res *Result, step Step, err error) {
	category := errors.CategoryRelay
	switch {
	case errors.Is(err, ErrConflict):
		category = errors.CategoryConflict
	case errors.Is(err, context.DeadlineExceeded):
		category = errors.CategoryTimeout
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	}

	res.Failed = step
	res.Err = errors.New(fmt.Errorf("relay %s: %w", step, err)).
		Component("relay").
		Category(category).
		Priority(errors.PriorityMedium).
		Context("sink", r.sink.Name()).
		Context("step", string(step)).
		Context("attempt_id", res.AttemptID).
		Build()
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
