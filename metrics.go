package courier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricCallCount              = []string{"courier", "call", "count"}
	MetricCallErrorCount         = []string{"courier", "call", "error", "count"}
	MetricCallLatencyMs          = []string{"courier", "call", "latency", "ms"}
	MetricPendingCalls           = []string{"courier", "call", "pending"}
	MetricDispatchCount          = []string{"courier", "dispatch", "count"}
	MetricDispatchErrorCount     = []string{"courier", "dispatch", "error", "count"}
	MetricResponseUnmatchedCount = []string{"courier", "response", "unmatched", "count"}
)

type TelemetryLabel string

var (
	LabelError     TelemetryLabel = "error"
	LabelMethod    TelemetryLabel = "method"
	LabelRoute     TelemetryLabel = "route"
	LabelChannel   TelemetryLabel = "channel"
	LabelPeerID    TelemetryLabel = "peer_id"
	LabelRequestID TelemetryLabel = "request_id"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}

// errorKind is a low-cardinality name for err, used as a metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrUnknownChannel):
		return "unknown_channel"
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported_method"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	case errors.Is(err, ErrNoHandler):
		return "no_handler"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrRouteNotFound):
		return "route_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "handler"
	}
}

// withLabels returns base plus extra in a fresh slice.
func withLabels(base []metrics.Label, extra ...metrics.Label) []metrics.Label {
	out := make([]metrics.Label, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
