package courier

import (
	"context"

	"google.golang.org/protobuf/proto"
)

// Handler serves inbound requests and events. Payloads are the unpacked
// bodies, nil when the request had none.
//
// Request methods MUST return a non-nil message, use
// [google.golang.org/protobuf/types/known/emptypb.Empty] when there is
// nothing to answer. An error fails the dispatch and no response is
// sent back to the caller.
type Handler interface {
	Get(ctx context.Context, route string, body proto.Message) (proto.Message, error)
	Post(ctx context.Context, route string, body proto.Message) (proto.Message, error)
	Put(ctx context.Context, route string, body proto.Message) (proto.Message, error)
	Delete(ctx context.Context, route string, body proto.Message) (proto.Message, error)
	Event(ctx context.Context, route string, body proto.Message) error
}

// HandlerFunc serves a single request method.
type HandlerFunc func(ctx context.Context, route string, body proto.Message) (proto.Message, error)

// EventFunc serves events.
type EventFunc func(ctx context.Context, route string, body proto.Message) error
