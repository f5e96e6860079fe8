// Package connectivity answers whether the relay sink is currently reachable.
//
// Probes never return errors. Any failure (timeout, DNS, refused connection,
// server error) counts as unreachable, and every probe is bounded by its
// timeout regardless of the caller's context.
package connectivity

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/wildwatch-go/internal/httpclient"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// DefaultTimeout bounds a probe when none is configured.
const DefaultTimeout = 5 * time.Second

// Monitor reports reachability of the relay sink.
type Monitor interface {
	Reachable(ctx context.Context) bool
}

// Recorder receives probe outcomes, e.g. for metrics.
type Recorder interface {
	RecordProbe(kind string, reachable bool, d time.Duration)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(ctx context.Context) bool

// Reachable calls f.
func (f MonitorFunc) Reachable(ctx context.Context) bool { return f(ctx) }

type probeCore struct {
	kind     string
	target   string
	timeout  time.Duration
	recorder Recorder
	log      logger.Logger
}

func newCore(kind, target string, timeout time.Duration, rec Recorder) probeCore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return probeCore{
		kind:     kind,
		target:   target,
		timeout:  timeout,
		recorder: rec,
		log:      logger.Global().Module("connectivity"),
	}
}

func (p *probeCore) run(ctx context.Context, probe func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	elapsed := time.Since(start)
	ok := err == nil

	if p.recorder != nil {
		p.recorder.RecordProbe(p.kind, ok, elapsed)
	}
	if ok {
		p.log.Debug("sink reachable",
			logger.String("probe", p.kind),
			logger.Duration("latency", elapsed))
	} else {
		p.log.Debug("sink unreachable",
			logger.String("probe", p.kind),
			logger.String("target", p.target),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
	}
	return ok
}

// HTTPProbe sends a HEAD request. Any status below 500 counts as reachable,
// since redirects and auth failures still prove the sink answers.
type HTTPProbe struct {
	probeCore
	client *httpclient.Client
}

// NewHTTPProbe creates an HTTP probe for url.
func NewHTTPProbe(client *httpclient.Client, url string, timeout time.Duration, rec Recorder) *HTTPProbe {
	return &HTTPProbe{probeCore: newCore("http", url, timeout, rec), client: client}
}

// Reachable performs one probe.
func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	return p.run(ctx, func(ctx context.Context) error {
		resp, err := p.client.Head(ctx, p.target)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return &httpclient.StatusError{Method: http.MethodHead, URL: p.target, StatusCode: resp.StatusCode}
		}
		return nil
	})
}

// TCPProbe dials host:port.
type TCPProbe struct {
	probeCore
	dialer net.Dialer
}

// NewTCPProbe creates a TCP probe for address.
func NewTCPProbe(address string, timeout time.Duration, rec Recorder) *TCPProbe {
	return &TCPProbe{probeCore: newCore("tcp", address, timeout, rec)}
}

// Reachable performs one probe.
func (p *TCPProbe) Reachable(ctx context.Context) bool {
	return p.run(ctx, func(ctx context.Context) error {
		conn, err := p.dialer.DialContext(ctx, "tcp", p.target)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

const cacheKey = "reachable"

// CachedMonitor remembers the last probe result for ttl so the agent loop
// does not probe on every frame.
type CachedMonitor struct {
	next  Monitor
	cache *cache.Cache
}

// NewCachedMonitor wraps next. A ttl of zero disables caching.
func NewCachedMonitor(next Monitor, ttl time.Duration) Monitor {
	if ttl <= 0 {
		return next
	}
	return &CachedMonitor{next: next, cache: cache.New(ttl, 2*ttl)}
}

// Reachable returns the cached result or probes.
func (m *CachedMonitor) Reachable(ctx context.Context) bool {
	if v, found := m.cache.Get(cacheKey); found {
		if ok, isBool := v.(bool); isBool {
			return ok
		}
	}
	ok := m.next.Reachable(ctx)
	m.cache.Set(cacheKey, ok, cache.DefaultExpiration)
	return ok
}

// Invalidate forces the next call to probe.
func (m *CachedMonitor) Invalidate() {
	m.cache.Delete(cacheKey)
}

// Invalidate drops a cached result held by m, if m caches. The agent calls
// it after a failed relay so a stale "reachable" does not outlive the failure.
func Invalidate(m Monitor) {
	if c, ok := m.(interface{ Invalidate() }); ok {
		c.Invalidate()
	}
}
