package courier

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// Field numbers of the wire messages:
//
//	message Request  { string id = 1; Method method = 2; string route = 3; google.protobuf.Any body = 4; }
//	message Response { string id = 1; string request_id = 2; string route = 3; google.protobuf.Any body = 4; }
const (
	fieldID     protowire.Number = 1
	fieldMethod protowire.Number = 2
	fieldRoute  protowire.Number = 3
	fieldBody   protowire.Number = 4

	fieldRequestID protowire.Number = 2
)

var marshalOpts = proto.MarshalOptions{Deterministic: true}

func (r *Request) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(nil)
}

// AppendBinary appends the protobuf encoding of r to buf.
func (r *Request) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendString(buf, fieldID, r.ID)
	if r.Method != 0 {
		buf = protowire.AppendTag(buf, fieldMethod, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(int64(r.Method)))
	}
	buf = appendString(buf, fieldRoute, r.Route)
	return appendBody(buf, r.Body)
}

func (r *Request) UnmarshalBinary(buf []byte) error {
	*r = Request{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return decodeErr("request", 0, n)
		}
		buf = buf[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			r.ID, n = consumeString(buf)
		case num == fieldMethod && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(buf)
			r.Method = Method(int32(v))
		case num == fieldRoute && typ == protowire.BytesType:
			r.Route, n = consumeString(buf)
		case num == fieldBody && typ == protowire.BytesType:
			r.Body, n = consumeBody(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return decodeErr("request", num, n)
		}
		buf = buf[n:]
	}
	return nil
}

func (r *Response) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(nil)
}

// AppendBinary appends the protobuf encoding of r to buf.
func (r *Response) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendString(buf, fieldID, r.ID)
	buf = appendString(buf, fieldRequestID, r.RequestID)
	buf = appendString(buf, fieldRoute, r.Route)
	return appendBody(buf, r.Body)
}

func (r *Response) UnmarshalBinary(buf []byte) error {
	*r = Response{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return decodeErr("response", 0, n)
		}
		buf = buf[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			r.ID, n = consumeString(buf)
		case num == fieldRequestID && typ == protowire.BytesType:
			r.RequestID, n = consumeString(buf)
		case num == fieldRoute && typ == protowire.BytesType:
			r.Route, n = consumeString(buf)
		case num == fieldBody && typ == protowire.BytesType:
			r.Body, n = consumeBody(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return decodeErr("response", num, n)
		}
		buf = buf[n:]
	}
	return nil
}

// errInvalidUTF8 and errInvalidBody extend protowire's negative lengths.
const (
	errInvalidUTF8 = -100
	errInvalidBody = -101
)

func decodeErr(envelope string, num protowire.Number, n int) error {
	var cause error
	switch n {
	case errInvalidUTF8:
		cause = fmt.Errorf("field %d: invalid UTF-8", num)
	case errInvalidBody:
		cause = fmt.Errorf("field %d: malformed Any", num)
	default:
		cause = protowire.ParseError(n)
	}
	return fmt.Errorf("%w: %s: %w", ErrDecode, envelope, cause)
}

func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

func appendBody(buf []byte, body *anypb.Any) ([]byte, error) {
	if body == nil {
		return buf, nil
	}
	raw, err := marshalOpts.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("courier: could not encode body: %w", err)
	}
	buf = protowire.AppendTag(buf, fieldBody, protowire.BytesType)
	return protowire.AppendBytes(buf, raw), nil
}

func consumeString(buf []byte) (string, int) {
	v, n := protowire.ConsumeString(buf)
	if n < 0 {
		return "", n
	}
	if !utf8.ValidString(v) {
		return "", errInvalidUTF8
	}
	return v, n
}

func consumeBody(buf []byte) (*anypb.Any, int) {
	raw, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, n
	}
	body := new(anypb.Any)
	if err := proto.Unmarshal(raw, body); err != nil {
		return nil, errInvalidBody
	}
	return body, n
}
