// Package analysis wires the configured components into a running agent.
package analysis

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/tphakala/wildwatch-go/internal/agent"
	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/connectivity"
	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/detection"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/eventstore"
	"github.com/tphakala/wildwatch-go/internal/httpclient"
	"github.com/tphakala/wildwatch-go/internal/location"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/monitor"
	"github.com/tphakala/wildwatch-go/internal/notification"
	"github.com/tphakala/wildwatch-go/internal/observability"
	"github.com/tphakala/wildwatch-go/internal/relay"
	"github.com/tphakala/wildwatch-go/internal/relay/targets"
)

// GetLogger returns the module logger for the wiring layer
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}

// Components holds everything the realtime command runs. Close releases
// them in reverse order of construction.
type Components struct {
	Agent   *agent.Agent
	Store   *eventstore.Store
	Relay   *relay.Relay
	Monitor connectivity.Monitor

	closers []io.Closer
}

// Close releases every component. The first error is returned.
func (c *Components) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

// closerFunc adapts a function to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Build constructs the agent and its collaborators from settings. metrics
// may be nil. On error everything built so far is released.
func Build(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) (c *Components, err error) {
	c = &Components{}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	var labels *detection.Labels
	if settings.Detector.Labels != "" {
		if labels, err = detection.LoadLabels(settings.Detector.Labels); err != nil {
			return nil, err
		}
	}

	store, err := OpenStore(settings)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.closers = append(c.closers, store)

	loc, err := NewLocationProvider(&settings.Location)
	if err != nil {
		return nil, err
	}

	debouncer, err := NewDebouncer(&settings.Detector, labels)
	if err != nil {
		return nil, err
	}

	deps := agent.Deps{
		Location:  loc,
		Debouncer: debouncer,
		Store:     store,
	}
	if metrics != nil {
		deps.DetectionRecorder = metrics.Detection
		deps.StoreRecorder = metrics.Store
	}

	if settings.Relay.Enabled {
		r, mon, closer, err := NewRelay(settings, store, metrics)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, closer)
		c.Relay, c.Monitor = r, mon
		deps.Relay, deps.Monitor = r, mon
	}

	if settings.Notification.Enabled {
		n, err := notification.NewNotifier(&settings.Notification, settings.Main.Name)
		if err != nil {
			return nil, err
		}
		deps.Notifier = n
	}

	// the detector starts last so a configuration error never leaves it running
	src, closer, err := NewSource(ctx, &settings.Detector)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closer)
	deps.Source = src

	if c.Agent, err = agent.New(deps, settings.Main.LoopInterval); err != nil {
		return nil, err
	}
	return c, nil
}

// NewSource opens the configured detection source, wrapped in the class
// filter. The returned closer stops it.
func NewSource(ctx context.Context, settings *conf.DetectorSettings) (detection.Source, io.Closer, error) {
	var (
		src    detection.Source
		closer io.Closer
	)

	switch settings.Source {
	case conf.SourceProcess:
		p, err := detection.StartProcess(ctx, detection.ProcessConfig{
			Command:         settings.Command,
			Args:            settings.Args,
			ModelConfidence: settings.ModelConfidence,
			IoUThreshold:    settings.IoUThreshold,
		}, logger.Global().Module("detection"))
		if err != nil {
			return nil, nil, err
		}
		src, closer = p, p

	default:
		var r io.Reader
		if settings.Input == "-" {
			r = io.NopCloser(os.Stdin)
		} else {
			f, err := os.Open(settings.Input) //nolint:gosec // G304: path is from operator config
			if err != nil {
				return nil, nil, errors.New(err).
					Component("analysis").
					Category(errors.CategoryFileIO).
					Priority(errors.PriorityCritical).
					FileContext(settings.Input, 0).
					Build()
			}
			r = f
		}
		s := detection.NewJSONLSource(r)
		src, closer = s, s
	}

	return detection.NewFilterSource(src, settings.ClassFilter), closer, nil
}

// NewLocationProvider returns the configured location provider.
func NewLocationProvider(settings *conf.LocationSettings) (location.Provider, error) {
	if settings.Provider == conf.LocationStatic {
		return location.NewStaticProvider(location.Coordinates{
			Latitude:  settings.Latitude,
			Longitude: settings.Longitude,
		})
	}
	return location.NewFileProvider(settings.Path), nil
}

// NewDebouncer builds the debouncer from the detector settings. labels may
// be nil, in which case classes are named by id.
func NewDebouncer(settings *conf.DetectorSettings, labels *detection.Labels) (*debounce.Debouncer, error) {
	var opts []debounce.Option
	if labels != nil {
		opts = append(opts, debounce.WithNamer(labels))
	}
	return debounce.New(debounce.Config{
		Threshold:  settings.ConfidenceThreshold,
		Dwell:      settings.Dwell(),
		Cooldown:   settings.Cooldown(),
		EvictAfter: settings.EvictAfter(),
	}, opts...)
}

// OpenStore opens the event store, guarded by the free space floor when one
// is configured.
func OpenStore(settings *conf.Settings) (*eventstore.Store, error) {
	var opts []eventstore.Option
	if settings.Store.MinFreeMB > 0 {
		opts = append(opts, eventstore.WithSpaceGuard(monitor.NewDiskGuard(settings.Store.MinFreeMB)))
	}
	return eventstore.Open(settings.Store.Path, opts...)
}

// NewHTTPClient creates the client shared by the probe and HTTP sinks.
func NewHTTPClient(settings *conf.Settings, metrics *observability.Metrics) *httpclient.Client {
	client := httpclient.New(&httpclient.Config{
		UserAgent: "wildwatch/" + settings.Version,
	})
	if metrics != nil {
		client.SetAfterResponseHook(metrics.HTTP.ObserveResponse)
	}
	return client
}

// NewRelay builds the relay, its sink and the connectivity monitor that
// gates it. The returned closer releases the sink and the HTTP client.
func NewRelay(settings *conf.Settings, source relay.Source, metrics *observability.Metrics) (*relay.Relay, connectivity.Monitor, io.Closer, error) {
	client := NewHTTPClient(settings, metrics)

	sink, err := targets.New(&settings.Relay, client)
	if err != nil {
		client.Close()
		return nil, nil, nil, err
	}
	closer := closerFunc(func() error {
		defer client.Close()
		return sink.Close()
	})

	opts := []relay.Option{relay.WithCursor(relay.NewCursorFile(settings.Relay.CursorPath))}
	var probeRec connectivity.Recorder
	if metrics != nil {
		opts = append(opts, relay.WithRecorder(metrics.Relay))
		probeRec = metrics.Connectivity
	}

	r, err := relay.New(relay.Config{
		Object:   settings.Relay.Object,
		Interval: settings.Relay.Interval,
		Timeout:  settings.Relay.Timeout,
	}, sink, source, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, nil, err
	}

	return r, NewMonitor(&settings.Connectivity, client, probeRec), closer, nil
}

// NewMonitor builds the configured probe, cached for settings.CacheTTL.
func NewMonitor(settings *conf.ConnectivitySettings, client *httpclient.Client, rec connectivity.Recorder) connectivity.Monitor {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var probe connectivity.Monitor
	switch settings.Probe {
	case conf.ProbeTCP:
		probe = connectivity.NewTCPProbe(settings.Address, timeout, rec)
	default:
		probe = connectivity.NewHTTPProbe(client, settings.URL, timeout, rec)
	}

	return connectivity.NewCachedMonitor(probe, settings.CacheTTL)
}
