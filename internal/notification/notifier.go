// Package notification pushes confirmed sightings to shoutrrr services.
// Delivery is best effort: failures are logged and never reach the
// detection loop.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/privacy"
)

const queueSize = 16

// Sender delivers one message to every configured service. It is satisfied
// by the shoutrrr service router.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier queues sightings and sends them from Run.
type Notifier struct {
	sender  Sender
	title   string
	limiter *rate.Limiter
	breaker *CircuitBreaker
	now     func() time.Time
	queue   chan debounce.Sighting
	log     logger.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSender replaces the shoutrrr router built from the settings URLs.
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.sender = s }
}

// WithClock sets the time source used for rate limiting and the breaker.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// GetLogger returns the module logger for notifications
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}

// NewNotifier creates a notifier for settings. deviceName is appended to the
// message title when set.
func NewNotifier(settings *conf.NotificationSettings, deviceName string, opts ...Option) (*Notifier, error) {
	perHour := max(settings.PerHour, 1)

	n := &Notifier{
		title: settings.Title,
		now:   time.Now,
		queue: make(chan debounce.Sighting, queueSize),
		log:   GetLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if deviceName != "" {
		n.title = fmt.Sprintf("%s: %s", n.title, deviceName)
	}

	n.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), min(perHour, 5))
	n.breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig(), n.now, n.log)

	if n.sender == nil {
		sender, err := shoutrrr.CreateSender(settings.URLs...)
		if err != nil {
			return nil, errors.New(privacy.WrapError(err)).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Context("urls", len(settings.URLs)).
				Build()
		}
		configureRouter(sender, settings.Timeout)
		n.sender = sender
	}
	return n, nil
}

// configureRouter bounds each send and silences the router's own logging
func configureRouter(r *router.ServiceRouter, timeout time.Duration) {
	if timeout > 0 {
		r.Timeout = timeout
	}
	r.SetLogger(log.New(io.Discard, "", 0))
}

// FormatMessage renders a sighting as "Koala sighted (0.70) at lat,lon".
func FormatMessage(s *debounce.Sighting) string {
	return fmt.Sprintf("%s sighted (%s) at %s",
		s.ClassName, strconv.FormatFloat(s.Confidence, 'f', 2, 64), s.Location.String())
}

// Notify queues s for delivery. It never blocks; when the queue is full the
// sighting is dropped with a warning.
func (n *Notifier) Notify(s debounce.Sighting) {
	select {
	case n.queue <- s:
	default:
		n.log.Warn("notification queue full, dropping sighting",
			logger.String("class", s.ClassName),
			logger.Int("queue_size", queueSize))
	}
}

// Run sends queued sightings until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-n.queue:
			n.deliver(ctx, &s)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, s *debounce.Sighting) {
	if !n.limiter.AllowN(n.now(), 1) {
		n.log.Warn("notification rate limit reached, dropping sighting",
			logger.String("class", s.ClassName))
		return
	}

	message := FormatMessage(s)
	err := n.breaker.Call(ctx, func(context.Context) error {
		return n.send(message)
	})
	if err != nil {
		n.log.Warn("failed to send sighting notification",
			logger.String("class", s.ClassName),
			logger.Error(privacy.WrapError(err)))
		return
	}
	n.log.Debug("sighting notification sent", logger.String("class", s.ClassName))
}

func (n *Notifier) send(message string) error {
	params := stypes.Params{}
	params.SetTitle(n.title)

	for _, err := range n.sender.Send(message, &params) {
		if err != nil {
			return errors.New(privacy.WrapError(err)).
				Component("notification").
				Category(errors.CategoryNotification).
				Build()
		}
	}
	return nil
}
