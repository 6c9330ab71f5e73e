// Package observability aggregates runtime counters for the session layer.
package observability

import "sync/atomic"

// Stats counts session-layer activity with atomic counters so gateway
// handlers never contend on a lock for bookkeeping.
type Stats struct {
	ConnectionsOpened uint64
	ConnectionsClosed uint64
	RoomJoins         uint64
	RoomLeaves        uint64
	MessagesStored    uint64
	EventsDelivered   uint64
	EventsDropped     uint64
	TypingSignals     uint64
	ScopedErrors      uint64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) ConnectionOpened() { atomic.AddUint64(&s.ConnectionsOpened, 1) }
func (s *Stats) ConnectionClosed() { atomic.AddUint64(&s.ConnectionsClosed, 1) }
func (s *Stats) RoomJoined()       { atomic.AddUint64(&s.RoomJoins, 1) }
func (s *Stats) RoomLeft()         { atomic.AddUint64(&s.RoomLeaves, 1) }
func (s *Stats) MessageStored()    { atomic.AddUint64(&s.MessagesStored, 1) }
func (s *Stats) EventDelivered()   { atomic.AddUint64(&s.EventsDelivered, 1) }
func (s *Stats) EventDropped()     { atomic.AddUint64(&s.EventsDropped, 1) }
func (s *Stats) TypingSignal()     { atomic.AddUint64(&s.TypingSignals, 1) }
func (s *Stats) ScopedError()      { atomic.AddUint64(&s.ScopedErrors, 1) }

// Snapshot is a consistent-enough copy for periodic logging; individual
// counters are read atomically, the set as a whole is not a transaction.
type Snapshot struct {
	ConnectionsOpened uint64 `json:"connections_opened"`
	ConnectionsClosed uint64 `json:"connections_closed"`
	RoomJoins         uint64 `json:"room_joins"`
	RoomLeaves        uint64 `json:"room_leaves"`
	MessagesStored    uint64 `json:"messages_stored"`
	EventsDelivered   uint64 `json:"events_delivered"`
	EventsDropped     uint64 `json:"events_dropped"`
	TypingSignals     uint64 `json:"typing_signals"`
	ScopedErrors      uint64 `json:"scoped_errors"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsOpened: atomic.LoadUint64(&s.ConnectionsOpened),
		ConnectionsClosed: atomic.LoadUint64(&s.ConnectionsClosed),
		RoomJoins:         atomic.LoadUint64(&s.RoomJoins),
		RoomLeaves:        atomic.LoadUint64(&s.RoomLeaves),
		MessagesStored:    atomic.LoadUint64(&s.MessagesStored),
		EventsDelivered:   atomic.LoadUint64(&s.EventsDelivered),
		EventsDropped:     atomic.LoadUint64(&s.EventsDropped),
		TypingSignals:     atomic.LoadUint64(&s.TypingSignals),
		ScopedErrors:      atomic.LoadUint64(&s.ScopedErrors),
	}
}
