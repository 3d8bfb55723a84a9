package courier

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
)

type result struct {
	msg proto.Message
	err error
}

// future is completed at most once, by whoever removes it from the
// registry.
type future struct {
	done chan result
}

// pendingCalls correlates in-flight request ids with their future.
type pendingCalls struct {
	lk    sync.Locker
	calls map[string]*future
}

// newPendingCalls returns a registry. A non-concurrent registry skips
// locking and MUST only be used from a single goroutine.
func newPendingCalls(concurrent bool) *pendingCalls {
	p := &pendingCalls{
		calls: make(map[string]*future),
	}
	if concurrent {
		p.lk = new(sync.Mutex)
	} else {
		p.lk = nopLocker{}
	}
	return p
}

func (p *pendingCalls) register(id string) (*future, error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if _, has := p.calls[id]; has {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	f := &future{done: make(chan result, 1)}
	p.calls[id] = f
	return f, nil
}

func (p *pendingCalls) take(id string) *future {
	p.lk.Lock()
	defer p.lk.Unlock()
	f, has := p.calls[id]
	if has {
		delete(p.calls, id)
	}
	return f
}

// resolve completes the call id with msg. It returns false when no call
// is waiting for id.
func (p *pendingCalls) resolve(id string, msg proto.Message) bool {
	return p.complete(id, result{msg: msg})
}

func (p *pendingCalls) complete(id string, res result) bool {
	f := p.take(id)
	if f == nil {
		return false
	}
	f.done <- res
	return true
}

// cancel forgets id without completing it.
func (p *pendingCalls) cancel(id string) bool {
	return p.take(id) != nil
}

func (p *pendingCalls) failAll(err error) int {
	p.lk.Lock()
	calls := p.calls
	p.calls = make(map[string]*future)
	p.lk.Unlock()

	for _, f := range calls {
		f.done <- result{err: err}
	}
	return len(calls)
}

func (p *pendingCalls) len() int {
	p.lk.Lock()
	defer p.lk.Unlock()
	return len(p.calls)
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}
