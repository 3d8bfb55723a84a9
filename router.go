package courier

import "fmt"

// Decoded is an envelope decoded from a logical channel. Exactly one of
// Request or Response is set.
type Decoded struct {
	Channel  Channel
	Request  *Request
	Response *Response
}

// Route decodes data according to the envelope kind carried by ch.
// Events reuse the [Request] shape.
func Route(ch Channel, data []byte) (Decoded, error) {
	switch ch {
	case ChannelRequest, ChannelEvent:
		req := new(Request)
		if err := req.UnmarshalBinary(data); err != nil {
			return Decoded{}, err
		}
		return Decoded{Channel: ch, Request: req}, nil
	case ChannelResponse:
		resp := new(Response)
		if err := resp.UnmarshalBinary(data); err != nil {
			return Decoded{}, err
		}
		return Decoded{Channel: ch, Response: resp}, nil
	default:
		return Decoded{}, fmt.Errorf("%w: %d", ErrUnknownChannel, uint8(ch))
	}
}
