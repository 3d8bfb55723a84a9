package courier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/courier/pkg/peer"
	"golang.org/x/time/rate"
)

// Transport correlates requests and responses exchanged over a
// [peer.Conn]. A transport built with [NewServer] also serves inbound
// requests and events with its [Handler]. Both roles can issue calls.
type Transport struct {
	conn     peer.Conn
	handler  Handler
	pending  *pendingCalls
	resolver TypeResolver

	logger  *slog.Logger
	msink   metrics.MetricSink
	mLabels []metrics.Label

	callTimeout time.Duration
	limiter     *rate.Limiter
	onError     func(peer.Packet, error)

	// ctx is the context of subscription-driven dispatches, cancelled
	// by Close.
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
	closed      atomic.Bool

	// serveAsync runs requests and events off the delivering goroutine,
	// so a handler can wait on its own calls.
	serveAsync bool
	serveLk    sync.Mutex
	serving    sync.WaitGroup
}

// NewServer creates a transport serving inbound requests and events
// with h. It starts receiving packets from conn right away.
func NewServer(conn peer.Conn, h Handler, opts ...Option) (*Transport, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: a server needs a handler", ErrInvalidCfg)
	}
	return newTransport(conn, h, opts)
}

// NewClient creates a transport which can only issue calls. Inbound
// requests and events fail with [ErrNoHandler].
func NewClient(conn peer.Conn, opts ...Option) (*Transport, error) {
	return newTransport(conn, nil, opts)
}

func newTransport(conn peer.Conn, h Handler, opts []Option) (*Transport, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrInvalidCfg)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	t := &Transport{
		conn:        conn,
		handler:     h,
		pending:     newPendingCalls(cfg.concurrent),
		resolver:    cfg.resolver,
		mLabels:     cfg.metricLabels,
		callTimeout: cfg.callTimeout,
		limiter:     cfg.limiter,
		onError:     cfg.onError,
		serveAsync:  cfg.concurrent,
	}

	if cfg.logHandler == nil {
		t.logger = slog.Default()
	} else {
		t.logger = slog.New(cfg.logHandler)
	}
	role := "client"
	if h != nil {
		role = "server"
	}
	t.logger = t.logger.With("role", role)

	if cfg.msink == nil {
		t.msink = metrics.Default()
	} else {
		t.msink = cfg.msink
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.unsubscribe = conn.Subscribe(t.onPacket)
	return t, nil
}

// Close stops receiving packets, fails every pending call with
// [ErrClosed] and waits for the handlers still running. It MUST NOT be
// called from a [Handler].
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.serveLk.Lock()
		t.closed.Store(true)
		t.serveLk.Unlock()

		t.unsubscribe()
		t.cancel()
		failed := t.pending.failAll(ErrClosed)
		t.msink.SetGaugeWithLabels(MetricPendingCalls, 0, t.mLabels)
		t.serving.Wait()
		t.logger.Debug("transport closed", "failed_calls", failed)
	})
	return nil
}

// Pending returns the number of calls waiting for a response.
func (t *Transport) Pending() int {
	return t.pending.len()
}

func (t *Transport) onPacket(pkt peer.Packet) {
	if !t.serveAsync || Channel(pkt.Channel) == ChannelResponse {
		if !t.closed.Load() {
			t.dispatchAndReport(pkt)
		}
		return
	}

	t.serveLk.Lock()
	defer t.serveLk.Unlock()
	if t.closed.Load() {
		return
	}

	// the connection may reuse its buffer once we return.
	pkt.Data = append([]byte(nil), pkt.Data...)
	t.serving.Add(1)
	go func() {
		defer t.serving.Done()
		t.dispatchAndReport(pkt)
	}()
}

func (t *Transport) dispatchAndReport(pkt peer.Packet) {
	if err := t.Dispatch(t.ctx, pkt); err != nil {
		t.logger.Warn("dispatch failed",
			LabelPeerID.L(pkt.From),
			LabelChannel.L(Channel(pkt.Channel).String()),
			LabelError.L(err),
		)
		if t.onError != nil {
			t.onError(pkt, err)
		}
	}
}

// Dispatch processes an inbound packet: requests are served and
// answered, events are served and responses resolve pending calls.
//
// Packets received from the connection are dispatched automatically,
// Dispatch is exported for connections driven by the caller. Responses
// are resolved on the delivering goroutine while requests and events
// are served on their own goroutine, unless the transport was built
// with WithConcurrent(false) in which case everything runs inline.
func (t *Transport) Dispatch(ctx context.Context, pkt peer.Packet) (err error) {
	ch := Channel(pkt.Channel)
	mLabels := withLabels(t.mLabels, LabelChannel.M(ch.String()))
	defer func() {
		t.msink.IncrCounterWithLabels(MetricDispatchCount, 1.0, mLabels)
		if err != nil {
			t.msink.IncrCounterWithLabels(MetricDispatchErrorCount, 1.0,
				withLabels(mLabels, LabelError.M(errorKind(err))))
		}
	}()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("courier: waiting for dispatch slot: %w", err)
		}
	}

	decoded, err := Route(ch, pkt.Data)
	if err != nil {
		return err
	}

	switch ch {
	case ChannelEvent:
		return t.serveEvent(ctx, decoded.Request)
	case ChannelRequest:
		return t.serveRequest(ctx, pkt.From, decoded.Request)
	default:
		return t.resolveResponse(decoded.Response)
	}
}

func (t *Transport) serveEvent(ctx context.Context, req *Request) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	if req.Method != MethodEvent {
		return fmt.Errorf("%w: %s on %s channel", ErrUnsupportedMethod, req.Method, ChannelEvent)
	}
	if t.handler == nil {
		return fmt.Errorf("%w: cannot serve event %s", ErrNoHandler, req.Route)
	}

	body, err := unpack(req.Body, t.resolver)
	if err != nil {
		return err
	}
	if err := t.handler.Event(ctx, req.Route, body); err != nil {
		return fmt.Errorf("courier: event %s: %w", req.Route, err)
	}
	return nil
}

func (t *Transport) serveRequest(ctx context.Context, from peer.ID, req *Request) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	if t.handler == nil {
		return fmt.Errorf("%w: cannot serve %s %s", ErrNoHandler, req.Method, req.Route)
	}

	var serve HandlerFunc
	switch req.Method {
	case MethodGet:
		serve = t.handler.Get
	case MethodPost:
		serve = t.handler.Post
	case MethodPut:
		serve = t.handler.Put
	case MethodDelete:
		serve = t.handler.Delete
	default:
		return fmt.Errorf("%w: %s on %s channel", ErrUnsupportedMethod, req.Method, ChannelRequest)
	}

	body, err := unpack(req.Body, t.resolver)
	if err != nil {
		return err
	}
	out, err := serve(ctx, req.Route, body)
	if err != nil {
		return fmt.Errorf("courier: %s %s: %w", req.Method, req.Route, err)
	}

	packed, err := pack(out)
	if err != nil {
		return err
	}
	resp := &Response{
		ID:        newID(),
		RequestID: req.ID,
		Route:     req.Route,
		Body:      packed,
	}
	if err := ValidateResponse(resp); err != nil {
		return err
	}
	data, err := resp.MarshalBinary()
	if err != nil {
		return err
	}

	if !t.conn.TrySend(from, uint8(ChannelResponse), data) {
		return fmt.Errorf("%w: response to %s %s for peer %d", ErrSendFailed, req.Method, req.Route, from)
	}
	return nil
}

func (t *Transport) resolveResponse(resp *Response) error {
	if err := ValidateResponse(resp); err != nil {
		return err
	}

	msg, err := unpack(resp.Body, t.resolver)
	if !t.pending.complete(resp.RequestID, result{msg: msg, err: err}) {
		t.logger.Debug("dropping unmatched response",
			LabelRequestID.L(resp.RequestID),
			LabelRoute.L(resp.Route),
		)
		t.msink.IncrCounterWithLabels(MetricResponseUnmatchedCount, 1.0, t.mLabels)
		return nil
	}
	t.msink.SetGaugeWithLabels(MetricPendingCalls, float32(t.pending.len()), t.mLabels)
	return err
}

func peerLabel(id peer.ID) metrics.Label {
	return LabelPeerID.M(strconv.FormatUint(uint64(id), 10))
}
