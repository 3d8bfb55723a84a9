package courier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func answer(s string) HandlerFunc {
	return func(context.Context, string, proto.Message) (proto.Message, error) {
		return wrapperspb.String(s), nil
	}
}

func requireAnswer(t *testing.T, expected string, msg proto.Message, err error) {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, expected, msg.(*wrapperspb.StringValue).GetValue())
}

func TestMux(t *testing.T) {
	ctx := context.Background()
	mux := NewMux()

	require.NoError(t, mux.HandleGet("/users/", answer("any user")))
	require.NoError(t, mux.HandleGet("/users/admin", answer("admin")))
	require.NoError(t, mux.HandleGet("/users/admin/keys/", answer("admin keys")))
	require.NoError(t, mux.HandleGet("/", answer("root")))
	require.NoError(t, mux.HandlePost("/users", answer("created")))
	require.NoError(t, mux.HandlePut("/users/1", answer("updated")))
	require.NoError(t, mux.HandleDelete("/users/1", answer("deleted")))
	require.Equal(t, 4, mux.Routes(MethodGet))

	t.Run("exact route wins", func(t *testing.T) {
		msg, err := mux.Get(ctx, "/users/admin", nil)
		requireAnswer(t, "admin", msg, err)
	})

	t.Run("longest prefix route wins", func(t *testing.T) {
		msg, err := mux.Get(ctx, "/users/42", nil)
		requireAnswer(t, "any user", msg, err)

		msg, err = mux.Get(ctx, "/users/admin/keys/1", nil)
		requireAnswer(t, "admin keys", msg, err)

		msg, err = mux.Get(ctx, "/users/administrator", nil)
		requireAnswer(t, "any user", msg, err)

		msg, err = mux.Get(ctx, "/groups", nil)
		requireAnswer(t, "root", msg, err)
	})

	t.Run("methods are routed separately", func(t *testing.T) {
		msg, err := mux.Post(ctx, "/users", nil)
		requireAnswer(t, "created", msg, err)

		msg, err = mux.Put(ctx, "/users/1", nil)
		requireAnswer(t, "updated", msg, err)

		msg, err = mux.Delete(ctx, "/users/1", nil)
		requireAnswer(t, "deleted", msg, err)

		_, err = mux.Post(ctx, "/users/1", nil)
		require.ErrorIs(t, err, ErrRouteNotFound)
		_, err = mux.Delete(ctx, "/users", nil)
		require.ErrorIs(t, err, ErrRouteNotFound)
	})

	t.Run("exact routes do not match below them", func(t *testing.T) {
		_, err := mux.Put(ctx, "/users/12", nil)
		require.ErrorIs(t, err, ErrRouteNotFound)
		_, err = mux.Put(ctx, "/users/1/name", nil)
		require.ErrorIs(t, err, ErrRouteNotFound)
	})

	t.Run("registration replaces", func(t *testing.T) {
		require.NoError(t, mux.HandleGet("/users/admin", answer("root user")))
		msg, err := mux.Get(ctx, "/users/admin", nil)
		requireAnswer(t, "root user", msg, err)
		require.Equal(t, 4, mux.Routes(MethodGet))
	})

	t.Run("events", func(t *testing.T) {
		var got []string
		require.NoError(t, mux.HandleEvent("/log/", func(_ context.Context, route string, body proto.Message) error {
			got = append(got, route+"="+body.(*wrapperspb.StringValue).GetValue())
			return nil
		}))
		require.NoError(t, mux.Event(ctx, "/log/app", wrapperspb.String("started")))
		require.ErrorIs(t, mux.Event(ctx, "/metrics", wrapperspb.String("x")), ErrRouteNotFound)
		require.Equal(t, []string{"/log/app=started"}, got)
		require.Equal(t, 1, mux.Routes(MethodEvent))
	})

	t.Run("invalid registrations", func(t *testing.T) {
		require.ErrorIs(t, mux.Handle(MethodEvent, "/x", answer("x")), ErrUnsupportedMethod)
		require.ErrorIs(t, mux.Handle(Method(12), "/x", answer("x")), ErrUnsupportedMethod)
		require.ErrorIs(t, mux.HandleGet("", answer("x")), ErrInvalidCfg)
		require.ErrorIs(t, mux.HandleEvent("/x", nil), ErrInvalidCfg)
	})
}

func TestRouteTree_Split(t *testing.T) {
	tree := newRouteTree[int]()
	for i, route := range []string{"/abc", "/abd", "/ab", "/a/", "/abcdef"} {
		tree.insert(route, i)
	}
	require.Equal(t, 5, tree.len())

	for i, route := range []string{"/abc", "/abd", "/ab", "/a/", "/abcdef"} {
		v, found := tree.match(route)
		require.True(t, found, route)
		require.Equal(t, i, v, route)
	}

	_, found := tree.match("/abcd")
	require.False(t, found, "no prefix route above /abcd")

	v, found := tree.match("/a/b")
	require.True(t, found)
	require.Equal(t, 3, v)
}
