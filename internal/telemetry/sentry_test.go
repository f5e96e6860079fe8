package telemetry

import (
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/errors"
)

// testDSN points at a project that never receives events; the mock
// transport captures them first
const testDSN = "https://public@sentry.example.com/1"

func enabledSettings() *conf.Settings {
	s := &conf.Settings{Version: "1.2.3"}
	s.Sentry.Enabled = true
	s.Sentry.DSN = testDSN
	s.Sentry.Environment = "test"
	return s
}

func setupSentry(t *testing.T) *mockTransport {
	t.Helper()
	transport := &mockTransport{}
	require.NoError(t, initSentry(enabledSettings(), transport))
	t.Cleanup(func() {
		Shutdown(time.Second)
		errors.SetPrivacyScrubber(nil)
	})
	return transport
}

func TestInitSentryDisabledIsNoop(t *testing.T) {
	s := &conf.Settings{}
	require.NoError(t, InitSentry(s))
	assert.False(t, sentryInitialized.Load())
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestInitSentryRejectsBadDSN(t *testing.T) {
	s := enabledSettings()
	s.Sentry.DSN = "ftp://secretkey@:nope"

	err := initSentry(s, &mockTransport{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secretkey")
	assert.False(t, sentryInitialized.Load())
}

func TestEnhancedErrorsAreReported(t *testing.T) {
	transport := setupSentry(t)

	_ = errors.Newf("upload to https://relay.example.com/events?token=abc failed").
		Component("relay").
		Category(errors.CategoryRelay).
		Context("operation", "update_object").
		Build()
	Flush(time.Second)

	events := transport.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "relay", ev.Tags["component"])
	assert.Equal(t, "relay", ev.Tags["category"])
	assert.Equal(t, sentry.LevelWarning, ev.Level)
	assert.NotContains(t, ev.Message, "relay.example.com")
	assert.NotContains(t, ev.Message, "token=abc")
	assert.Equal(t, "wildwatch@1.2.3", ev.Release)
	assert.Empty(t, ev.ServerName)
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := &sentry.Event{
		Message:    "dial mqtt://agent:pw@10.0.0.9:1883",
		ServerName: "gully-cam.local",
		User:       sentry.User{ID: "pi"},
		Contexts:   map[string]sentry.Context{"device": {}, "os": {}, "application": {}},
		Extra:      map[string]any{"component": "relay", "path": "/home/pi"},
		Tags:       map[string]string{"hostname": "gully-cam", "component": "relay"},
	}

	got := applyPrivacyFilters(event)
	assert.Empty(t, got.ServerName)
	assert.True(t, got.User.IsEmpty())
	assert.Contains(t, got.Contexts, "application")
	assert.NotContains(t, got.Contexts, "device")
	assert.Equal(t, map[string]any{"component": "relay"}, got.Extra)
	assert.Equal(t, map[string]string{"component": "relay"}, got.Tags)
	assert.NotContains(t, got.Message, "pw@")
}

func TestShutdownDetachesReporter(t *testing.T) {
	setupSentry(t)
	require.NotNil(t, errors.GetTelemetryReporter())

	Shutdown(time.Second)
	assert.Nil(t, errors.GetTelemetryReporter())
	assert.False(t, sentryInitialized.Load())
}
