package workers

import (
	"context"
	"log/slog"

	"helpdesk/contract"
	"helpdesk/domain/event"
)

// EventFanout relays persisted-side-effect events to in-process sinks
// (search index, summary trigger, counters). It provides best-effort
// delivery with no ordering or retry guarantees; it is not a message
// broker. The gateway never waits on a sink.
type EventFanout struct {
	log    *slog.Logger
	events <-chan event.DomainEvent
	sinks  []contract.EventSink
}

func NewEventFanout(log *slog.Logger, events <-chan event.DomainEvent, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, events: events, sinks: sinks}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.fanout(ctx, evt)
		}
	}
}

func (w *EventFanout) fanout(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range w.sinks {
		if err := sink.Consume(ctx, evt); err != nil {
			w.log.Warn("sink rejected event",
				"conversation_id", evt.Conversation(),
				"error", err)
		}
	}
}
