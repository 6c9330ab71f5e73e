package workers

import (
	"context"
	"log/slog"

	"helpdesk/contract"
	"helpdesk/domain"
	"helpdesk/domain/event"
)

// SummaryWorker writes a conversation summary once the conversation reaches
// resolved. It is both an event sink (Consume enqueues) and a supervised
// worker (Run drains the queue and calls the summarizer), so summarization
// latency never blocks the fanout loop.
type SummaryWorker struct {
	log        *slog.Logger
	store      contract.IConversationStore
	summarizer contract.ISummarizer
	queue      chan string
}

func NewSummaryWorker(log *slog.Logger, store contract.IConversationStore,
	summarizer contract.ISummarizer, queueSize int) *SummaryWorker {
	return &SummaryWorker{
		log:        log,
		store:      store,
		summarizer: summarizer,
		queue:      make(chan string, queueSize),
	}
}

// Consume enqueues resolved conversations. A full queue drops the trigger;
// the summary is a convenience, never worth backpressuring the gateway.
func (w *SummaryWorker) Consume(_ context.Context, e event.DomainEvent) error {
	changed, ok := e.(event.StatusChanged)
	if !ok || changed.NewStatus != domain.StatusResolved {
		return nil
	}
	select {
	case w.queue <- changed.ConversationID:
	default:
		w.log.Warn("summary queue full, dropping trigger",
			"conversation_id", changed.ConversationID)
	}
	return nil
}

func (w *SummaryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case conversationID := <-w.queue:
			w.summarize(ctx, conversationID)
		}
	}
}

func (w *SummaryWorker) summarize(ctx context.Context, conversationID string) {
	conv, err := w.store.Get(conversationID)
	if err != nil {
		w.log.Error("cannot load conversation for summary",
			"conversation_id", conversationID, "error", err)
		return
	}
	// The conversation may have moved on while the trigger sat in the queue.
	if conv.Status != domain.StatusResolved && conv.Status != domain.StatusClosed {
		return
	}

	history, err := w.store.History(conversationID)
	if err != nil {
		w.log.Error("cannot load history for summary",
			"conversation_id", conversationID, "error", err)
		return
	}

	text, err := w.summarizer.Summarize(ctx, conv, history)
	if err != nil {
		w.log.Error("summarization failed",
			"conversation_id", conversationID, "error", err)
		return
	}
	if _, err := w.store.Update(conversationID, domain.Patch{Summary: &text}); err != nil {
		w.log.Error("cannot store summary",
			"conversation_id", conversationID, "error", err)
	}
}
