// Package fanout multiplexes live chat events: each conversation id maps to
// the set of currently-open sessions subscribed to it, and Publish delivers
// an event to all of them, best effort, at most once. A disconnected
// recipient misses live events and catches up from the persistent store.
package fanout

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Subscriber is a live session handle. Deliver must not block indefinitely
// and reports false when the session is mid-teardown; a false return never
// aborts delivery to the remaining subscribers.
type Subscriber interface {
	SessionID() uuid.UUID
	UserID() uuid.UUID
	Deliver(payload []byte) bool
}

// Event is one application-level fanout unit. Payload is the marshaled wire
// frame; OriginSessionID with ExcludeOrigin set skips delivery back to the
// emitting session (typing indicators only).
type Event struct {
	ConversationID  uuid.UUID       `json:"conversation_id"`
	OriginSessionID uuid.UUID       `json:"origin_session_id"`
	ExcludeOrigin   bool            `json:"exclude_origin"`
	Payload         json.RawMessage `json:"payload"`
}

// Registry is the conversation-to-subscribers multiplexer. Subscribe and
// Unsubscribe are idempotent; Unsubscribe of a never-registered handle is a
// no-op, so teardown after an abnormal disconnect can always call it.
type Registry interface {
	Subscribe(conversationID uuid.UUID, sub Subscriber)
	Unsubscribe(conversationID uuid.UUID, sub Subscriber)
	Publish(ctx context.Context, event *Event) error
	Close() error
}
