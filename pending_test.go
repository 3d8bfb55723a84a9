package courier

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestPendingCalls_Lifecycle(t *testing.T) {
	for _, concurrent := range []bool{true, false} {
		t.Run(fmt.Sprintf("concurrent=%t", concurrent), func(t *testing.T) {
			p := newPendingCalls(concurrent)
			id := newID()

			fut, err := p.register(id)
			require.NoError(t, err)
			require.Equal(t, 1, p.len())

			_, err = p.register(id)
			require.ErrorIs(t, err, ErrDuplicateID)
			require.Equal(t, 1, p.len())

			require.False(t, p.resolve(newID(), wrapperspb.String("stranger")), "unknown id is a no-op")
			require.True(t, p.resolve(id, wrapperspb.String("ok")))
			require.Equal(t, 0, p.len())
			require.False(t, p.resolve(id, wrapperspb.String("again")), "resolved at most once")

			res := <-fut.done
			require.NoError(t, res.err)
			require.Equal(t, "ok", res.msg.(*wrapperspb.StringValue).GetValue())
			require.Empty(t, fut.done)
		})
	}
}

func TestPendingCalls_Cancel(t *testing.T) {
	p := newPendingCalls(true)
	id := newID()
	fut, err := p.register(id)
	require.NoError(t, err)

	require.True(t, p.cancel(id))
	require.False(t, p.cancel(id))
	require.False(t, p.resolve(id, wrapperspb.String("late")), "late response is dropped")
	require.Empty(t, fut.done)
	require.Equal(t, 0, p.len())
}

func TestPendingCalls_FailAll(t *testing.T) {
	p := newPendingCalls(true)
	futs := make([]*future, 3)
	for i := range futs {
		var err error
		futs[i], err = p.register(newID())
		require.NoError(t, err)
	}

	require.Equal(t, 3, p.failAll(ErrClosed))
	require.Equal(t, 0, p.len())
	for _, fut := range futs {
		res := <-fut.done
		require.ErrorIs(t, res.err, ErrClosed)
	}
}

func TestPendingCalls_Concurrent(t *testing.T) {
	const n = 64
	p := newPendingCalls(true)

	ids := make([]string, n)
	futs := make([]*future, n)
	for i := range ids {
		ids[i] = newID()
		var err error
		futs[i], err = p.register(ids[i])
		require.NoError(t, err)
	}

	// Every id is raced by a resolver and a canceller, exactly one wins.
	var wg sync.WaitGroup
	wins := make([]int, n)
	var lk sync.Mutex
	for i := range ids {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if p.resolve(ids[i], wrapperspb.String(ids[i])) {
				lk.Lock()
				wins[i]++
				lk.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			if p.cancel(ids[i]) {
				lk.Lock()
				wins[i]++
				lk.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, p.len())
	for i, fut := range futs {
		require.Equal(t, 1, wins[i])
		select {
		case res := <-fut.done:
			require.Equal(t, ids[i], res.msg.(*wrapperspb.StringValue).GetValue())
		default:
		}
	}
}
