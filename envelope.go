package courier

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/anypb"
)

// Method selects the handler operation a [Request] targets.
type Method int32

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodEvent
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "Get"
	case MethodPost:
		return "Post"
	case MethodPut:
		return "Put"
	case MethodDelete:
		return "Delete"
	case MethodEvent:
		return "Event"
	default:
		return "Method(" + strconv.Itoa(int(m)) + ")"
	}
}

// Valid reports whether m is one of the defined methods.
func (m Method) Valid() bool {
	return m >= MethodGet && m <= MethodEvent
}

// Channel is the logical channel an envelope travels on.
type Channel uint8

const (
	ChannelRequest Channel = iota
	ChannelResponse
	ChannelEvent
)

func (c Channel) String() string {
	switch c {
	case ChannelRequest:
		return "request"
	case ChannelResponse:
		return "response"
	case ChannelEvent:
		return "event"
	default:
		return "channel(" + strconv.Itoa(int(c)) + ")"
	}
}

// Request is sent on [ChannelRequest], or on [ChannelEvent] when its
// method is [MethodEvent].
type Request struct {
	ID     string
	Method Method
	Route  string
	Body   *anypb.Any
}

// Equal reports whether both requests carry the same fields.
func (r *Request) Equal(other *Request) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ID == other.ID &&
		r.Method == other.Method &&
		r.Route == other.Route &&
		proto.Equal(r.Body, other.Body)
}

// Response answers the [Request] whose ID is RequestID.
type Response struct {
	ID        string
	RequestID string
	Route     string
	Body      *anypb.Any
}

func (r *Response) Equal(other *Response) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ID == other.ID &&
		r.RequestID == other.RequestID &&
		r.Route == other.Route &&
		proto.Equal(r.Body, other.Body)
}

// TypeResolver finds the concrete message type of a packed payload.
// [protoregistry.Types] implements it.
type TypeResolver interface {
	protoregistry.MessageTypeResolver
	protoregistry.ExtensionTypeResolver
}

// pack wraps msg in an Any. A nil msg packs to a nil body.
func pack(msg proto.Message) (*anypb.Any, error) {
	if msg == nil {
		return nil, nil
	}
	body, err := anypb.New(msg)
	if err != nil {
		return nil, fmt.Errorf("courier: could not pack payload: %w", err)
	}
	return body, nil
}

func unpack(body *anypb.Any, resolver TypeResolver) (proto.Message, error) {
	if body == nil {
		return nil, nil
	}
	msg, err := anypb.UnmarshalNew(body, proto.UnmarshalOptions{Resolver: resolver})
	if err != nil {
		return nil, fmt.Errorf("%w: payload %q: %w", ErrDecode, body.GetTypeUrl(), err)
	}
	return msg, nil
}
