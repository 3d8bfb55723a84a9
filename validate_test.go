package courier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func mustPack(t *testing.T, s string) *anypb.Any {
	t.Helper()
	body, err := anypb.New(wrapperspb.String(s))
	require.NoError(t, err)
	return body
}

func requireViolations(t *testing.T, err error, fields ...string) {
	t.Helper()
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	got := make([]string, len(verr.Violations))
	for i, v := range verr.Violations {
		got[i] = v.Field
	}
	require.Equal(t, fields, got)
}

func TestValidateRequest(t *testing.T) {
	valid := func() *Request {
		return &Request{
			ID:     newID(),
			Method: MethodPost,
			Route:  "/users",
			Body:   mustPack(t, "alice"),
		}
	}

	for _, method := range []Method{MethodPost, MethodPut, MethodDelete, MethodEvent} {
		req := valid()
		req.Method = method
		require.NoError(t, ValidateRequest(req), method.String())
	}

	t.Run("get does not need a body", func(t *testing.T) {
		req := valid()
		req.Method = MethodGet
		req.Body = nil
		require.NoError(t, ValidateRequest(req))
	})

	cases := []struct {
		name   string
		mutate func(*Request)
		fields []string
	}{
		{"empty id", func(r *Request) { r.ID = "" }, []string{"id"}},
		{"malformed id", func(r *Request) { r.ID = "123" }, []string{"id"}},
		{"nil id", func(r *Request) { r.ID = "00000000-0000-0000-0000-000000000000" }, []string{"id"}},
		{"unknown method", func(r *Request) { r.Method = Method(9) }, []string{"method"}},
		{"negative method", func(r *Request) { r.Method = Method(-1) }, []string{"method"}},
		{"empty route", func(r *Request) { r.Route = "" }, []string{"route"}},
		{"missing body", func(r *Request) { r.Body = nil }, []string{"body"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(req)
			requireViolations(t, ValidateRequest(req), tc.fields...)
		})
	}

	t.Run("every violation is reported", func(t *testing.T) {
		err := ValidateRequest(&Request{Method: MethodDelete})
		requireViolations(t, err, "id", "route", "body")
		require.Contains(t, err.Error(), "route: must not be empty")
	})

	t.Run("nil request", func(t *testing.T) {
		requireViolations(t, ValidateRequest(nil), "request")
	})
}

func TestValidateResponse(t *testing.T) {
	valid := func() *Response {
		return &Response{
			ID:        newID(),
			RequestID: newID(),
			Route:     "/users/1",
			Body:      mustPack(t, "alice"),
		}
	}
	require.NoError(t, ValidateResponse(valid()))

	cases := []struct {
		name   string
		mutate func(*Response)
		fields []string
	}{
		{"empty id", func(r *Response) { r.ID = "" }, []string{"id"}},
		{"bad request id", func(r *Response) { r.RequestID = "abc" }, []string{"request_id"}},
		{"empty route", func(r *Response) { r.Route = "" }, []string{"route"}},
		{"missing body", func(r *Response) { r.Body = nil }, []string{"body"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := valid()
			tc.mutate(resp)
			requireViolations(t, ValidateResponse(resp), tc.fields...)
		})
	}

	requireViolations(t, ValidateResponse(&Response{}), "id", "request_id", "route", "body")

	var verr *ValidationError
	require.True(t, errors.As(ValidateResponse(&Response{}), &verr))
	require.True(t, verr.Has("request_id"))
	require.Equal(t, "response", verr.Envelope)
}
