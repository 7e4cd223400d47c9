// Package notify is the engine's boundary with the platform's notification
// service. The engine only triggers it: delivery records, push/SMS/email
// routing and retry live on the other side.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventKindMessage  EventKind = "message"
	EventKindReaction EventKind = "reaction"
	EventKindRead     EventKind = "read"
)

// Event describes one notifiable occurrence. Recipients is the set of active
// participants excluding the actor; the trigger decides which of them have no
// open connection and deserve a durable notification.
type Event struct {
	Kind           EventKind
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	ActorID        uuid.UUID
	Recipients     []uuid.UUID
}

// Trigger is fire-and-forget from the engine's perspective: its result is
// never awaited and its failure must never fail the operation that raised
// the event.
type Trigger interface {
	Notify(ctx context.Context, event Event)
}

// LogTrigger is the in-tree stub: it records the event and does nothing
// else. Deployments swap in the platform's notification client.
type LogTrigger struct {
	log *slog.Logger
}

func NewLogTrigger(log *slog.Logger) *LogTrigger {
	if log == nil {
		log = slog.Default()
	}
	return &LogTrigger{log: log}
}

func (t *LogTrigger) Notify(ctx context.Context, event Event) {
	t.log.Debug("notification event",
		"kind", event.Kind,
		"conversation_id", event.ConversationID,
		"message_id", event.MessageID,
		"actor_id", event.ActorID,
		"recipients", len(event.Recipients))
}

// Dispatch invokes the trigger on its own goroutine with a panic guard, so a
// misbehaving trigger implementation cannot take a session down with it.
func Dispatch(ctx context.Context, trigger Trigger, log *slog.Logger, event Event) {
	if trigger == nil {
		return
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				if log != nil {
					log.Error("notification trigger panicked", "kind", event.Kind, "panic", rec)
				}
			}
		}()
		trigger.Notify(ctx, event)
	}()
}
