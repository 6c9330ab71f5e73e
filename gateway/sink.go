package gateway

import (
	"context"

	"helpdesk/observability"
	"helpdesk/protocol"
)

// ConnSink buffers outbound events for one connection. The write pump owns
// the draining side; Consume never blocks a broadcast. When the buffer is
// full the event is dropped and counted, not retried.
type ConnSink struct {
	events chan protocol.Event
	stats  *observability.Stats
}

func NewConnSink(bufferSize int, stats *observability.Stats) *ConnSink {
	return &ConnSink{
		events: make(chan protocol.Event, bufferSize),
		stats:  stats,
	}
}

func (s *ConnSink) Consume(ctx context.Context, e protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.events <- e:
		s.stats.EventDelivered()
		return nil
	default:
		s.stats.EventDropped()
		return nil
	}
}

// Events exposes the buffered stream to the connection's write pump.
func (s *ConnSink) Events() <-chan protocol.Event {
	return s.events
}
