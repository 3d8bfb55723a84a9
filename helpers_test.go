package courier

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/raskyld/courier/pkg/peer"
	"github.com/stretchr/testify/mock"
)

var discardLog = slog.NewTextHandler(io.Discard, nil)

// MockConn records sends and lets the test deliver packets by hand.
type MockConn struct {
	m mock.Mock

	lk           sync.Mutex
	subscribers  []func(peer.Packet)
	unsubscribed atomic.Int32
}

func (c *MockConn) TrySend(to peer.ID, channel uint8, data []byte) bool {
	args := c.m.Called(to, channel, data)
	return args.Bool(0)
}

func (c *MockConn) Subscribe(fn func(peer.Packet)) func() {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.subscribers = append(c.subscribers, fn)
	return func() { c.unsubscribed.Add(1) }
}

func (c *MockConn) deliver(pkt peer.Packet) {
	c.lk.Lock()
	subs := append([]func(peer.Packet){}, c.subscribers...)
	c.lk.Unlock()
	for _, fn := range subs {
		fn(pkt)
	}
}

// syncConn delivers synchronously to its remote end from within
// TrySend, so a whole exchange runs on the calling goroutine.
type syncConn struct {
	id     peer.ID
	remote *syncConn
	subs   []func(peer.Packet)
}

func newSyncPair(a, b peer.ID) (*syncConn, *syncConn) {
	ca, cb := &syncConn{id: a}, &syncConn{id: b}
	ca.remote, cb.remote = cb, ca
	return ca, cb
}

func (c *syncConn) TrySend(to peer.ID, channel uint8, data []byte) bool {
	if to != c.remote.id {
		return false
	}
	for _, fn := range c.remote.subs {
		fn(peer.Packet{From: c.id, Channel: channel, Data: data})
	}
	return true
}

func (c *syncConn) Subscribe(fn func(peer.Packet)) func() {
	c.subs = append(c.subs, fn)
	idx := len(c.subs) - 1
	return func() { c.subs[idx] = func(peer.Packet) {} }
}
