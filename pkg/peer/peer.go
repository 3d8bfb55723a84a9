// Package peer holds the contract courier expects from the underlying
// bidirectional connection, plus a few implementations of it.
//
// A [Conn] only has to do two things: best-effort send of bytes on a
// logical channel to a peer, and notify subscribers when bytes arrive.
// Connection establishment is left to the implementation.
package peer

import (
	"errors"
	"sync"
)

var (
	ErrClosed        = errors.New("peer: connection closed")
	ErrFrameTooLarge = errors.New("peer: frame too large")
)

// ID identifies a remote peer from the point of view of a local [Conn].
// IDs are local: two nodes may use different IDs for the same peer.
type ID uint32

// Packet is a message delivered by a [Conn].
type Packet struct {
	From    ID
	Channel uint8
	Data    []byte
}

// Conn is a bidirectional peer connection.
type Conn interface {
	// TrySend queues data for delivery to the peer `to` on the given
	// channel. It returns false if the data cannot be sent.
	TrySend(to ID, channel uint8, data []byte) bool

	// Subscribe registers fn to be notified of every inbound Packet.
	// Notifications can happen concurrently with each other.
	// The returned function removes the subscription.
	Subscribe(fn func(Packet)) (unsubscribe func())
}

// subscribers is the subscription list shared by implementations.
type subscribers struct {
	lk   sync.RWMutex
	next uint64
	fns  map[uint64]func(Packet)
}

func (s *subscribers) add(fn func(Packet)) func() {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(Packet))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lk.Lock()
			delete(s.fns, id)
			s.lk.Unlock()
		})
	}
}

func (s *subscribers) notify(pkt Packet) {
	s.lk.RLock()
	fns := make([]func(Packet), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.lk.RUnlock()

	for _, fn := range fns {
		fn(pkt)
	}
}

func (s *subscribers) len() int {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return len(s.fns)
}
