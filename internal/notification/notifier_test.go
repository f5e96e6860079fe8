package notification

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/location"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

type sentMessage struct {
	message string
	title   string
}

// fakeSender records sends and fails while err is set
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return []error{nil, f.err}
	}
	f.sent = append(f.sent, sentMessage{message: message, title: (*params)["title"]})
	return []error{nil}
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func koala() debounce.Sighting {
	return debounce.Sighting{
		Timestamp:  time.Date(2026, 10, 14, 6, 30, 0, 0, time.UTC),
		ClassID:    3,
		ClassName:  "Koala",
		Confidence: 0.7,
		Location:   location.Coordinates{Latitude: -27.4698, Longitude: 153.0251},
	}
}

func newTestNotifier(t *testing.T, sender Sender, clock *testClock, perHour int) *Notifier {
	t.Helper()
	settings := &conf.NotificationSettings{Title: "WildWatch sighting", PerHour: perHour}
	n, err := NewNotifier(settings, "gully-cam", WithSender(sender), WithClock(clock.Now))
	require.NoError(t, err)
	n.log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	n.breaker.log = n.log
	return n
}

func TestFormatMessage(t *testing.T) {
	t.Parallel()

	s := koala()
	assert.Equal(t, "Koala sighted (0.70) at -27.4698,153.0251", FormatMessage(&s))
}

func TestDeliverSendsTitledMessage(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := newTestNotifier(t, sender, &testClock{now: time.Now()}, 30)

	s := koala()
	n.deliver(t.Context(), &s)

	require.Len(t, sender.messages(), 1)
	assert.Equal(t, sentMessage{
		message: "Koala sighted (0.70) at -27.4698,153.0251",
		title:   "WildWatch sighting: gully-cam",
	}, sender.messages()[0])
}

func TestDeliverFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("post https://hooks.example.com/abc: connection refused")}
	n := newTestNotifier(t, sender, &testClock{now: time.Now()}, 30)

	s := koala()
	n.deliver(t.Context(), &s)

	assert.Empty(t, sender.messages())
	assert.Equal(t, 1, n.breaker.Failures())
}

func TestRateLimitDropsExcessSightings(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	clock := &testClock{now: time.Now()}
	n := newTestNotifier(t, sender, clock, 2)

	s := koala()
	for range 5 {
		n.deliver(t.Context(), &s)
	}
	assert.Len(t, sender.messages(), 2, "burst is capped at per_hour")

	clock.Advance(30 * time.Minute)
	n.deliver(t.Context(), &s)
	assert.Len(t, sender.messages(), 3, "one token refills every 30 minutes")
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := newTestNotifier(t, sender, &testClock{now: time.Now()}, 30)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	n.Notify(koala())
	assert.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, &fakeSender{}, &testClock{now: time.Now()}, 30)
	for range queueSize + 3 {
		n.Notify(koala())
	}
	assert.Len(t, n.queue, queueSize)
}

func TestNewNotifierRejectsBadURL(t *testing.T) {
	t.Parallel()

	settings := &conf.NotificationSettings{
		URLs:    []string{"nosuchservice://token@host"},
		Title:   "WildWatch sighting",
		PerHour: 30,
	}
	_, err := NewNotifier(settings, "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token@host")
}

func TestNewNotifierWithShoutrrrLogger(t *testing.T) {
	t.Parallel()

	settings := &conf.NotificationSettings{
		URLs:    []string{"logger://"},
		Title:   "WildWatch sighting",
		Timeout: time.Second,
		PerHour: 30,
	}
	n, err := NewNotifier(settings, "")
	require.NoError(t, err)
	require.NoError(t, n.send("Koala sighted (0.70) at -27.4698,153.0251"))
}
