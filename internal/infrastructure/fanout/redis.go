package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "campuslink.chat.conv."

// RedisRegistry extends LocalRegistry across server instances with Redis
// pub/sub. Publish goes to a per-conversation Redis channel; every instance
// runs one pattern subscription feeding received events into its own local
// subscriber sets. Origin exclusion still works across instances because the
// originating session id travels inside the envelope.
type RedisRegistry struct {
	local  *LocalRegistry
	client *redis.Client
	pubsub *redis.PubSub
	log    *slog.Logger
	done   chan struct{}
}

func NewRedisRegistry(addr, password string, db int, log *slog.Logger) (*RedisRegistry, error) {
	if log == nil {
		log = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := &RedisRegistry{
		local:  NewLocalRegistry(log),
		client: client,
		pubsub: client.PSubscribe(context.Background(), channelPrefix+"*"),
		log:    log,
		done:   make(chan struct{}),
	}
	go r.receive()
	return r, nil
}

func (r *RedisRegistry) Subscribe(conversationID uuid.UUID, sub Subscriber) {
	r.local.Subscribe(conversationID, sub)
}

func (r *RedisRegistry) Unsubscribe(conversationID uuid.UUID, sub Subscriber) {
	r.local.Unsubscribe(conversationID, sub)
}

// Publish sends the envelope through Redis; local delivery happens when the
// message comes back on the pattern subscription, so subscribers on this
// instance and on every other instance see the same order.
func (r *RedisRegistry) Publish(ctx context.Context, event *Event) error {
	envelope, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fanout envelope: %w", err)
	}
	channel := channelPrefix + event.ConversationID.String()
	if err := r.client.Publish(ctx, channel, envelope).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

func (r *RedisRegistry) receive() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			convID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
			if err != nil {
				r.log.Warn("ignoring fanout message on malformed channel", "channel", msg.Channel)
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.log.Warn("ignoring malformed fanout envelope", "conversation_id", convID, "error", err)
				continue
			}
			event.ConversationID = convID
			if err := r.local.Publish(context.Background(), &event); err != nil {
				r.log.Warn("local fanout delivery failed", "conversation_id", convID, "error", err)
			}
		}
	}
}

func (r *RedisRegistry) Close() error {
	close(r.done)
	if err := r.pubsub.Close(); err != nil {
		r.log.Warn("failed to close redis subscription", "error", err)
	}
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return r.local.Close()
}
