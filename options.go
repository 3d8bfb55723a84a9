package courier

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/courier/pkg/peer"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/reflect/protoregistry"
)

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	concurrent   bool
	resolver     TypeResolver
	callTimeout  time.Duration
	limiter      *rate.Limiter
	onError      func(peer.Packet, error)
}

func defaultConfig() *config {
	return &config{
		concurrent: true,
		resolver:   protoregistry.GlobalTypes,
	}
}

// Option to pass to `NewServer` and `NewClient`.
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink specifies where metrics go. Default to the global
// go-metrics sink.
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(c *config) error {
		c.msink = sink
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// transport.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithConcurrent selects whether the pending-call registry is guarded
// by a lock. Default to true.
//
// Only disable it when calls are issued, and packets are delivered, on
// a single goroutine: for example with a [peer.Conn] that delivers
// synchronously from within TrySend. A non-concurrent transport also
// serves requests and events inline, on the delivering goroutine.
func WithConcurrent(concurrent bool) Option {
	return func(c *config) error {
		c.concurrent = concurrent
		return nil
	}
}

// WithTypeResolver sets the registry used to unpack payloads. Default
// to `protoregistry.GlobalTypes`.
func WithTypeResolver(resolver TypeResolver) Option {
	return func(c *config) error {
		if resolver == nil {
			return fmt.Errorf("%w: nil type resolver", ErrInvalidCfg)
		}
		c.resolver = resolver
		return nil
	}
}

// WithCallTimeout bounds how long a call waits for its response when
// its context has no deadline. Zero, the default, waits forever.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return fmt.Errorf("%w: negative call timeout %s", ErrInvalidCfg, timeout)
		}
		c.callTimeout = timeout
		return nil
	}
}

// WithDispatchRateLimit caps the rate of inbound dispatches. Packets
// over the limit wait for a token.
func WithDispatchRateLimit(limit rate.Limit, burst int) Option {
	return func(c *config) error {
		if limit <= 0 || (burst <= 0 && limit != rate.Inf) {
			return fmt.Errorf("%w: rate limit needs a positive rate and burst", ErrInvalidCfg)
		}
		c.limiter = rate.NewLimiter(limit, burst)
		return nil
	}
}

// WithErrorHandler is called with every packet whose dispatch failed.
// It runs on the goroutine which dispatched the packet, it MUST be safe
// for concurrent use.
func WithErrorHandler(fn func(pkt peer.Packet, err error)) Option {
	return func(c *config) error {
		c.onError = fn
		return nil
	}
}
