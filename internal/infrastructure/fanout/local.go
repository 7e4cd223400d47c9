package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LocalRegistry keeps the subscriber sets in process memory behind a RWMutex.
// Suitable for single-instance deployments; multi-instance deployments wrap
// it in a RedisRegistry so a conversation's subscribers are reachable from
// any process.
type LocalRegistry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[Subscriber]struct{}
	log     *slog.Logger
}

func NewLocalRegistry(log *slog.Logger) *LocalRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &LocalRegistry{
		clients: make(map[uuid.UUID]map[Subscriber]struct{}),
		log:     log,
	}
}

func (r *LocalRegistry) Subscribe(conversationID uuid.UUID, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.clients[conversationID]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.clients[conversationID] = set
	}
	set[sub] = struct{}{}
	r.log.Debug("session subscribed",
		"conversation_id", conversationID,
		"session_id", sub.SessionID(),
		"subscribers", len(set))
}

func (r *LocalRegistry) Unsubscribe(conversationID uuid.UUID, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.clients[conversationID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.clients, conversationID)
	}
	r.log.Debug("session unsubscribed",
		"conversation_id", conversationID,
		"session_id", sub.SessionID(),
		"subscribers", len(set))
}

// Publish delivers event to every current subscriber of the conversation. A
// subscriber whose Deliver reports false is skipped; the rest still receive
// the event.
func (r *LocalRegistry) Publish(ctx context.Context, event *Event) error {
	r.mu.RLock()
	set := r.clients[event.ConversationID]
	subs := make([]Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		if event.ExcludeOrigin && sub.SessionID() == event.OriginSessionID {
			continue
		}
		if !sub.Deliver(event.Payload) {
			r.log.Debug("dropping event for session mid-teardown",
				"conversation_id", event.ConversationID,
				"session_id", sub.SessionID())
		}
	}
	return nil
}

func (r *LocalRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[uuid.UUID]map[Subscriber]struct{})
	return nil
}

// SubscriberCount reports the current set size for one conversation.
func (r *LocalRegistry) SubscriberCount(conversationID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[conversationID])
}
