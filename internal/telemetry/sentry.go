// Package telemetry provides opt-in error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/privacy"
)

var sentryInitialized atomic.Bool

// GetLogger returns the module logger for telemetry
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry initializes the Sentry SDK and routes enhanced errors to it.
// Nothing is initialized unless reporting is explicitly enabled.
func InitSentry(settings *conf.Settings) error {
	return initSentry(settings, nil)
}

func initSentry(settings *conf.Settings, transport sentry.Transport) error {
	if !settings.Sentry.Enabled {
		GetLogger().Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Sentry.Environment,
		ServerName:       "", // keep the hostname out of events
		Release:          fmt.Sprintf("wildwatch@%s", settings.Version),
		BeforeSend:       beforeSend,
		Transport:        transport,
	})
	if err != nil {
		// the DSN is a credential; keep it out of the message
		return errors.Newf("sentry initialization failed: %s", privacy.ScrubMessage(err.Error())).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configureSentryScope(settings)

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	GetLogger().Info("sentry telemetry initialized",
		logger.String("environment", settings.Sentry.Environment),
		logger.String("release", settings.Version))
	return nil
}

func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	return applyPrivacyFilters(event)
}

// contexts and tags the SDK fills in that identify the device
var (
	droppedContexts = []string{"device", "os", "runtime"}
	droppedTags     = []string{"server_name", "hostname"}
	keptExtra       = map[string]bool{"error_type": true, "component": true}
)

// applyPrivacyFilters strips identifying data the SDK attaches by default.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	for _, k := range droppedContexts {
		delete(event.Contexts, k)
	}
	for _, k := range droppedTags {
		delete(event.Tags, k)
	}
	for k := range event.Extra {
		if !keptExtra[k] {
			delete(event.Extra, k)
		}
	}

	event.Message = privacy.ScrubMessage(event.Message)
	return event
}

func configureSentryScope(settings *conf.Settings) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("sink", settings.Relay.Sink)

		scope.SetContext("application", map[string]any{
			"name":    "WildWatch",
			"version": settings.Version,
		})
		scope.SetContext("platform", map[string]any{
			"num_cpu":    runtime.NumCPU(),
			"go_version": runtime.Version(),
		})
	})
}

// Flush waits up to timeout for buffered events.
func Flush(timeout time.Duration) {
	if sentryInitialized.Load() {
		sentry.Flush(timeout)
	}
}

// Shutdown flushes pending events and detaches the error reporter.
func Shutdown(timeout time.Duration) {
	if !sentryInitialized.CompareAndSwap(true, false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	sentry.Flush(timeout)
}
