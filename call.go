package courier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raskyld/courier/pkg/peer"
	"google.golang.org/protobuf/proto"
)

// Call sends a request to peer `to` and waits for its response body.
//
// For [MethodEvent], Call returns as soon as the event is sent and the
// returned message is always nil.
//
// The wait ends when ctx is done, or after the timeout configured with
// [WithCallTimeout] if ctx has no deadline. A response arriving after
// that is dropped.
func (t *Transport) Call(ctx context.Context, route string, method Method, body proto.Message, to peer.ID) (_ proto.Message, err error) {
	mLabels := withLabels(t.mLabels, LabelMethod.M(method.String()), peerLabel(to))
	t.msink.IncrCounterWithLabels(MetricCallCount, 1.0, mLabels)
	defer func() {
		if err != nil {
			t.msink.IncrCounterWithLabels(MetricCallErrorCount, 1.0,
				withLabels(mLabels, LabelError.M(errorKind(err))))
		}
	}()

	if t.closed.Load() {
		return nil, ErrClosed
	}

	packed, err := pack(body)
	if err != nil {
		return nil, err
	}
	req := &Request{
		ID:     newID(),
		Method: method,
		Route:  route,
		Body:   packed,
	}
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	data, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if method == MethodEvent {
		if !t.conn.TrySend(to, uint8(ChannelEvent), data) {
			return nil, fmt.Errorf("%w: event %s for peer %d", ErrSendFailed, route, to)
		}
		return nil, nil
	}

	// Register first: the response may be dispatched before TrySend
	// returns.
	fut, err := t.pending.register(req.ID)
	if err != nil {
		return nil, err
	}
	if t.closed.Load() {
		t.pending.cancel(req.ID)
		return nil, ErrClosed
	}
	t.msink.SetGaugeWithLabels(MetricPendingCalls, float32(t.pending.len()), t.mLabels)

	start := time.Now()
	if !t.conn.TrySend(to, uint8(ChannelRequest), data) {
		t.pending.cancel(req.ID)
		t.msink.SetGaugeWithLabels(MetricPendingCalls, float32(t.pending.len()), t.mLabels)
		return nil, fmt.Errorf("%w: %s %s for peer %d", ErrSendFailed, method, route, to)
	}

	if t.callTimeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.callTimeout)
			defer cancel()
		}
	}

	var res result
	select {
	case res = <-fut.done:
	case <-ctx.Done():
		if t.pending.cancel(req.ID) {
			t.msink.SetGaugeWithLabels(MetricPendingCalls, float32(t.pending.len()), t.mLabels)
			t.logger.Debug("call abandoned",
				LabelRequestID.L(req.ID),
				LabelRoute.L(route),
				LabelError.L(ctx.Err()),
			)
			return nil, fmt.Errorf("courier: %s %s: %w", method, route, ctx.Err())
		}
		// Lost the race against completion, the result is on its way.
		res = <-fut.done
	}

	t.msink.AddSampleWithLabels(MetricCallLatencyMs,
		float32(time.Since(start).Seconds()*1e3), mLabels)
	if res.err != nil {
		if errors.Is(res.err, ErrClosed) {
			return nil, res.err
		}
		return nil, fmt.Errorf("courier: %s %s: %w", method, route, res.err)
	}
	return res.msg, nil
}

// Get calls route with [MethodGet]. body may be nil.
func (t *Transport) Get(ctx context.Context, route string, body proto.Message, to peer.ID) (proto.Message, error) {
	return t.Call(ctx, route, MethodGet, body, to)
}

func (t *Transport) Post(ctx context.Context, route string, body proto.Message, to peer.ID) (proto.Message, error) {
	return t.Call(ctx, route, MethodPost, body, to)
}

func (t *Transport) Put(ctx context.Context, route string, body proto.Message, to peer.ID) (proto.Message, error) {
	return t.Call(ctx, route, MethodPut, body, to)
}

func (t *Transport) Delete(ctx context.Context, route string, body proto.Message, to peer.ID) (proto.Message, error) {
	return t.Call(ctx, route, MethodDelete, body, to)
}

// Publish sends an event without waiting for any acknowledgement.
func (t *Transport) Publish(ctx context.Context, route string, body proto.Message, to peer.ID) error {
	_, err := t.Call(ctx, route, MethodEvent, body, to)
	return err
}
