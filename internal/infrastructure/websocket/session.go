package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campuslink-io/campuslink-chat/internal/application/services"
	"github.com/campuslink-io/campuslink-chat/internal/auth"
	"github.com/campuslink-io/campuslink-chat/internal/domain"
	"github.com/campuslink-io/campuslink-chat/internal/infrastructure/fanout"
	"github.com/campuslink-io/campuslink-chat/internal/metrics"
	"github.com/campuslink-io/campuslink-chat/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict to the frontend origins once they are fixed
		return true
	},
}

// SessionState tracks the connection lifecycle. Closed is terminal; reaching
// it always unsubscribes from the registry.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

// Deps bundles what every session needs; one value is shared by all sessions.
type Deps struct {
	ChatService         services.ChatService
	ConversationService services.ConversationService
	Registry            fanout.Registry
	Notifier            notify.Trigger
	Log                 *slog.Logger
}

// Session is the per-connection state machine. One reader goroutine consumes
// frames and one writer goroutine drains the send queue; the registry
// delivers into the queue from other sessions' readers.
type Session struct {
	id             uuid.UUID
	conn           *websocket.Conn
	send           chan []byte
	closed         chan struct{}
	closeOnce      sync.Once
	state          atomic.Int32
	userID         uuid.UUID
	user           domain.UserSummary
	conversationID uuid.UUID
	deps           *Deps
	log            *slog.Logger
}

// ServeWS completes the transport handshake, gates on membership, and runs
// the session. Per the connect contract the upgrade happens before the
// membership check: an anonymous or non-member caller gets a completed
// handshake followed by an immediate refusal, so a forged token and a missing
// conversation look identical from outside.
func ServeWS(deps *Deps, w http.ResponseWriter, r *http.Request, principal uuid.UUID, conversationID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		deps.Log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.New()
	s := &Session{
		id:             sessionID,
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		closed:         make(chan struct{}),
		userID:         principal,
		conversationID: conversationID,
		deps:           deps,
		log: deps.Log.With(
			"session_id", sessionID,
			"conversation_id", conversationID,
		),
	}
	s.state.Store(int32(StateConnecting))

	if principal != auth.Anonymous {
		s.state.Store(int32(StateAuthenticated))
	}

	if !s.subscribe() {
		metrics.ConnectionsRefused.Inc()
		s.refuse()
		return
	}

	go s.writePump()
	go s.readPump()
}

// subscribe moves Authenticated → Subscribed. The anonymous sentinel never
// has a participant row, so it fails the same check as a stranger.
func (s *Session) subscribe() bool {
	if SessionState(s.state.Load()) != StateAuthenticated {
		return false
	}
	active, err := s.deps.ConversationService.IsActiveParticipant(s.conversationID, s.userID)
	if err != nil {
		s.log.Error("membership check failed", "error", err)
		return false
	}
	if !active {
		return false
	}

	user, err := s.deps.ConversationService.GetUser(s.userID)
	if err != nil {
		s.log.Error("failed to load session user", "error", err)
		return false
	}
	s.user = user.Summary()

	s.deps.Registry.Subscribe(s.conversationID, s)
	s.state.Store(int32(StateSubscribed))
	metrics.ActiveConnections.Inc()
	s.log.Info("session subscribed", "user_id", s.userID)
	return true
}

// refuse closes a connection that never reached Subscribed. No transcript,
// no distinguishable reason.
func (s *Session) refuse() {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscription refused")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	s.close()
}

// close drives the session to Closed exactly once. Unsubscribing here is the
// mandatory side effect of the terminal state; it runs synchronously before
// the connection is torn down.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		prev := SessionState(s.state.Swap(int32(StateClosed)))
		if prev == StateSubscribed {
			s.deps.Registry.Unsubscribe(s.conversationID, s)
			metrics.ActiveConnections.Dec()
		}
		close(s.closed)
		_ = s.conn.Close()
		s.log.Info("session closed")
	})
}

// SessionID implements fanout.Subscriber.
func (s *Session) SessionID() uuid.UUID { return s.id }

// UserID implements fanout.Subscriber.
func (s *Session) UserID() uuid.UUID { return s.userID }

// Deliver implements fanout.Subscriber. It never blocks: a closed session or
// a full send queue drops the event, which is within the registry's
// best-effort contract.
func (s *Session) Deliver(payload []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("read failed", "error", err)
			}
			return
		}

		frame, err := DecodeClientFrame(data)
		if err != nil {
			metrics.FramesRejected.WithLabelValues("decode").Inc()
			s.Deliver(EncodeError(err.Error()))
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Warn("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// dispatch routes one decoded frame. The switch is exhaustive over the
// inbound variant; store failures become inline error frames and never
// propagate to other subscribers.
func (s *Session) dispatch(frame *ClientFrame) {
	if SessionState(s.state.Load()) != StateSubscribed {
		s.Deliver(EncodeError("session is not subscribed"))
		return
	}

	switch frame.Type {
	case FrameChatMessage:
		s.handleChatMessage(frame.ChatMessage)
	case FrameTypingStart:
		s.handleTyping(true)
	case FrameTypingStop:
		s.handleTyping(false)
	case FrameMessageRead:
		s.handleMessageRead(frame.MessageRead)
	case FrameAddReaction:
		s.handleAddReaction(frame.Reaction)
	case FrameRemoveReaction:
		s.handleRemoveReaction(frame.Reaction)
	default:
		// Unreachable: DecodeClientFrame rejects unknown tags.
		metrics.FramesRejected.WithLabelValues("unknown").Inc()
		s.Deliver(EncodeError("unknown frame type"))
	}
}

func (s *Session) handleChatMessage(p *ChatMessagePayload) {
	if p.Content == "" && p.MediaURL == "" {
		return
	}

	message, err := s.deps.ChatService.SendMessage(
		s.userID,
		s.conversationID,
		p.Content,
		domain.MessageType(p.MessageType),
		p.MediaURL,
		p.Metadata,
		p.ReplyToMessageID,
	)
	if err != nil {
		metrics.FramesRejected.WithLabelValues("send").Inc()
		s.Deliver(EncodeError(s.storeErrorText(err, "failed to send message")))
		return
	}
	metrics.MessagesAppended.Inc()

	payload, err := EncodeChatMessage(message)
	if err != nil {
		s.log.Error("failed to encode chat message", "message_id", message.ID, "error", err)
		return
	}
	s.publish(ServerFrameChatMessage, payload, false)
	s.triggerNotification(notify.EventKindMessage, message.ID)
}

func (s *Session) handleTyping(typing bool) {
	payload, err := EncodeTypingIndicator(s.userID, s.user.Username, typing)
	if err != nil {
		s.log.Error("failed to encode typing indicator", "error", err)
		return
	}
	// Pure fanout, no store mutation; the origin never hears its own typing.
	s.publish(ServerFrameTypingIndicator, payload, true)
}

func (s *Session) handleMessageRead(p *MessageReadPayload) {
	if err := s.deps.ChatService.MarkMessageAsRead(p.MessageID, s.userID); err != nil {
		metrics.FramesRejected.WithLabelValues("read").Inc()
		s.Deliver(EncodeError(s.storeErrorText(err, "failed to mark message as read")))
		return
	}

	payload, err := EncodeReadReceipt(p.MessageID, s.userID, s.user.Username)
	if err != nil {
		s.log.Error("failed to encode read receipt", "error", err)
		return
	}
	s.publish(ServerFrameReadReceipt, payload, false)
	s.triggerNotification(notify.EventKindRead, p.MessageID)
}

func (s *Session) handleAddReaction(p *ReactionPayload) {
	reaction, err := s.deps.ChatService.AddReaction(p.MessageID, s.userID, p.Emoji)
	if err != nil {
		metrics.FramesRejected.WithLabelValues("reaction").Inc()
		s.Deliver(EncodeError(s.storeErrorText(err, "failed to add reaction")))
		return
	}

	payload, err := EncodeReactionAdded(reaction)
	if err != nil {
		s.log.Error("failed to encode reaction", "error", err)
		return
	}
	s.publish(ServerFrameReactionAdded, payload, false)
	s.triggerNotification(notify.EventKindReaction, p.MessageID)
}

func (s *Session) handleRemoveReaction(p *ReactionPayload) {
	if err := s.deps.ChatService.RemoveReaction(p.MessageID, s.userID, p.Emoji); err != nil {
		metrics.FramesRejected.WithLabelValues("reaction").Inc()
		s.Deliver(EncodeError(s.storeErrorText(err, "failed to remove reaction")))
		return
	}

	payload, err := EncodeReactionRemoved(p.MessageID, s.userID, p.Emoji)
	if err != nil {
		s.log.Error("failed to encode reaction removal", "error", err)
		return
	}
	s.publish(ServerFrameReactionRemoved, payload, false)
}

func (s *Session) publish(frameType ServerFrameType, payload []byte, excludeOrigin bool) {
	event := &fanout.Event{
		ConversationID:  s.conversationID,
		OriginSessionID: s.id,
		ExcludeOrigin:   excludeOrigin,
		Payload:         payload,
	}
	if err := s.deps.Registry.Publish(context.Background(), event); err != nil {
		s.log.Error("fanout publish failed", "type", frameType, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(frameType)).Inc()
}

// triggerNotification hands the event to the notification boundary with the
// active participants minus the actor. Fire-and-forget.
func (s *Session) triggerNotification(kind notify.EventKind, messageID uuid.UUID) {
	participants, err := s.deps.ConversationService.ActiveParticipants(s.conversationID)
	if err != nil {
		s.log.Warn("failed to load participants for notification", "error", err)
		return
	}
	recipients := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		if p.UserID != s.userID {
			recipients = append(recipients, p.UserID)
		}
	}
	notify.Dispatch(context.Background(), s.deps.Notifier, s.log, notify.Event{
		Kind:           kind,
		ConversationID: s.conversationID,
		MessageID:      messageID,
		ActorID:        s.userID,
		Recipients:     recipients,
	})
}

// storeErrorText maps store failures to client-safe text; anything outside
// the known taxonomy is reported generically and logged in full.
func (s *Session) storeErrorText(err error, generic string) string {
	switch {
	case errors.Is(err, domain.ErrNotAParticipant):
		return "you are not a participant of this conversation"
	case errors.Is(err, domain.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, domain.ErrMessageNotFound):
		return "message not found"
	case errors.Is(err, domain.ErrInvalidMessageType):
		return "invalid message type"
	default:
		s.log.Error("store operation failed", "error", err)
		return generic
	}
}
