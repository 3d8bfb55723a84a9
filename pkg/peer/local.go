package peer

import (
	"errors"
	"sync"
)

var ErrIDTaken = errors.New("peer: id already joined the hub")

// Hub is an in-process network of [LocalConn]. It is mostly useful for
// tests and for wiring two transports living in the same process.
type Hub struct {
	inboxSize uint

	lk    sync.RWMutex
	conns map[ID]*LocalConn
}

// NewHub creates a Hub whose connections buffer up to inboxSize packets.
// TrySend towards a full inbox fails instead of blocking.
func NewHub(inboxSize uint) *Hub {
	if inboxSize == 0 {
		inboxSize = 1024
	}
	return &Hub{
		inboxSize: inboxSize,
		conns:     make(map[ID]*LocalConn),
	}
}

// Join attaches a new connection reachable under id.
func (h *Hub) Join(id ID) (*LocalConn, error) {
	h.lk.Lock()
	defer h.lk.Unlock()
	if _, has := h.conns[id]; has {
		return nil, ErrIDTaken
	}

	lc := &LocalConn{
		hub:   h,
		id:    id,
		inbox: make(chan Packet, h.inboxSize),
		done:  make(chan struct{}),
	}
	h.conns[id] = lc
	go lc.run()
	return lc, nil
}

func (h *Hub) lookup(id ID) (*LocalConn, bool) {
	h.lk.RLock()
	defer h.lk.RUnlock()
	lc, has := h.conns[id]
	return lc, has
}

func (h *Hub) leave(lc *LocalConn) {
	h.lk.Lock()
	defer h.lk.Unlock()
	if h.conns[lc.id] == lc {
		delete(h.conns, lc.id)
	}
}

var _ Conn = (*LocalConn)(nil)

// LocalConn is a [Conn] attached to a [Hub]. Packets are delivered to
// subscribers sequentially, from a dedicated goroutine.
type LocalConn struct {
	hub  *Hub
	id   ID
	subs subscribers

	lk     sync.Mutex
	closed bool
	inbox  chan Packet
	done   chan struct{}
}

// ID is the address of this connection on its hub.
func (lc *LocalConn) ID() ID {
	return lc.id
}

func (lc *LocalConn) TrySend(to ID, channel uint8, data []byte) bool {
	target, has := lc.hub.lookup(to)
	if !has {
		return false
	}

	// the caller may reuse data once we return.
	cloned := make([]byte, len(data))
	copy(cloned, data)
	return target.deliver(Packet{
		From:    lc.id,
		Channel: channel,
		Data:    cloned,
	})
}

func (lc *LocalConn) Subscribe(fn func(Packet)) func() {
	return lc.subs.add(fn)
}

func (lc *LocalConn) deliver(pkt Packet) bool {
	lc.lk.Lock()
	defer lc.lk.Unlock()
	if lc.closed {
		return false
	}

	select {
	case lc.inbox <- pkt:
		return true
	default:
		return false
	}
}

func (lc *LocalConn) run() {
	defer close(lc.done)
	for pkt := range lc.inbox {
		lc.subs.notify(pkt)
	}
}

// Close detaches the connection from its hub and waits for queued
// packets to be delivered. It MUST NOT be called from a subscriber.
func (lc *LocalConn) Close() error {
	lc.lk.Lock()
	if lc.closed {
		lc.lk.Unlock()
		return nil
	}
	lc.closed = true
	close(lc.inbox)
	lc.lk.Unlock()

	lc.hub.leave(lc)
	<-lc.done
	return nil
}
