package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/campuslink-io/campuslink-chat/internal/domain"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrMissingMessageID = errors.New("frame requires a message_id")
	ErrMissingEmoji     = errors.New("frame requires an emoji")
)

type ClientFrameType string

const (
	FrameChatMessage    ClientFrameType = "chat_message"
	FrameTypingStart    ClientFrameType = "typing_start"
	FrameTypingStop     ClientFrameType = "typing_stop"
	FrameMessageRead    ClientFrameType = "message_read"
	FrameAddReaction    ClientFrameType = "add_reaction"
	FrameRemoveReaction ClientFrameType = "remove_reaction"
)

type ChatMessagePayload struct {
	Content          string          `json:"content"`
	MessageType      string          `json:"message_type"`
	MediaURL         string          `json:"media_url"`
	Metadata         json.RawMessage `json:"metadata"`
	ReplyToMessageID *uuid.UUID      `json:"reply_to_message_id"`
}

type MessageReadPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Emoji     string    `json:"emoji"`
}

// ClientFrame is the decoded inbound variant. Exactly one payload pointer is
// set, matching Type; the session switches on Type exhaustively so no frame
// kind can be silently ignored.
type ClientFrame struct {
	Type        ClientFrameType
	ChatMessage *ChatMessagePayload
	MessageRead *MessageReadPayload
	Reaction    *ReactionPayload
}

// rawClientFrame is the single decode target at the boundary; the typed
// variant is built from it once per frame.
type rawClientFrame struct {
	Type             ClientFrameType `json:"type"`
	Content          string          `json:"content"`
	MessageType      string          `json:"message_type"`
	MediaURL         string          `json:"media_url"`
	Metadata         json.RawMessage `json:"metadata"`
	ReplyToMessageID *uuid.UUID      `json:"reply_to_message_id"`
	MessageID        *uuid.UUID      `json:"message_id"`
	Emoji            string          `json:"emoji"`
}

// DecodeClientFrame parses one wire frame. Malformed JSON, an unknown type
// tag, or a payload missing its required fields all return an error the
// session answers with a local error frame; the connection survives.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var raw rawClientFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch raw.Type {
	case FrameChatMessage:
		return &ClientFrame{
			Type: FrameChatMessage,
			ChatMessage: &ChatMessagePayload{
				Content:          raw.Content,
				MessageType:      raw.MessageType,
				MediaURL:         raw.MediaURL,
				Metadata:         raw.Metadata,
				ReplyToMessageID: raw.ReplyToMessageID,
			},
		}, nil
	case FrameTypingStart, FrameTypingStop:
		return &ClientFrame{Type: raw.Type}, nil
	case FrameMessageRead:
		if raw.MessageID == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingMessageID, raw.Type)
		}
		return &ClientFrame{
			Type:        FrameMessageRead,
			MessageRead: &MessageReadPayload{MessageID: *raw.MessageID},
		}, nil
	case FrameAddReaction, FrameRemoveReaction:
		if raw.MessageID == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingMessageID, raw.Type)
		}
		if raw.Emoji == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingEmoji, raw.Type)
		}
		return &ClientFrame{
			Type:     raw.Type,
			Reaction: &ReactionPayload{MessageID: *raw.MessageID, Emoji: raw.Emoji},
		}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, raw.Type)
	}
}

// Server → client frame shapes.

type ServerFrameType string

const (
	ServerFrameChatMessage     ServerFrameType = "chat_message"
	ServerFrameTypingIndicator ServerFrameType = "typing_indicator"
	ServerFrameReadReceipt     ServerFrameType = "read_receipt"
	ServerFrameReactionAdded   ServerFrameType = "reaction_added"
	ServerFrameReactionRemoved ServerFrameType = "reaction_removed"
	ServerFrameError           ServerFrameType = "error"
)

type wireMessage struct {
	ID               uuid.UUID          `json:"id"`
	ConversationID   uuid.UUID          `json:"conversation_id"`
	Sender           domain.UserSummary `json:"sender"`
	Content          string             `json:"content"`
	MessageType      domain.MessageType `json:"message_type"`
	MediaURL         *string            `json:"media_url"`
	Metadata         json.RawMessage    `json:"metadata,omitempty"`
	ReplyToMessageID *string            `json:"reply_to_message_id"`
	CreatedAt        string             `json:"created_at"`
}

func EncodeChatMessage(m *domain.Message) ([]byte, error) {
	wire := wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender.Summary(),
		Content:        m.Content,
		MessageType:    m.MessageType,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if m.MediaURL.Valid {
		wire.MediaURL = &m.MediaURL.String
	}
	if m.ReplyToMessageID.Valid {
		wire.ReplyToMessageID = &m.ReplyToMessageID.String
	}
	return json.Marshal(struct {
		Type    ServerFrameType `json:"type"`
		Message wireMessage     `json:"message"`
	}{ServerFrameChatMessage, wire})
}

func EncodeTypingIndicator(userID uuid.UUID, username string, typing bool) ([]byte, error) {
	return json.Marshal(struct {
		Type     ServerFrameType `json:"type"`
		UserID   uuid.UUID       `json:"user_id"`
		Username string          `json:"username"`
		Typing   bool            `json:"typing"`
	}{ServerFrameTypingIndicator, userID, username, typing})
}

func EncodeReadReceipt(messageID, userID uuid.UUID, username string) ([]byte, error) {
	return json.Marshal(struct {
		Type      ServerFrameType `json:"type"`
		MessageID uuid.UUID       `json:"message_id"`
		UserID    uuid.UUID       `json:"user_id"`
		Username  string          `json:"username"`
	}{ServerFrameReadReceipt, messageID, userID, username})
}

func EncodeReactionAdded(r *domain.MessageReaction) ([]byte, error) {
	return json.Marshal(struct {
		Type      ServerFrameType         `json:"type"`
		MessageID uuid.UUID               `json:"message_id"`
		Reaction  *domain.MessageReaction `json:"reaction"`
	}{ServerFrameReactionAdded, r.MessageID, r})
}

func EncodeReactionRemoved(messageID, userID uuid.UUID, emoji string) ([]byte, error) {
	return json.Marshal(struct {
		Type      ServerFrameType `json:"type"`
		MessageID uuid.UUID       `json:"message_id"`
		UserID    uuid.UUID       `json:"user_id"`
		Emoji     string          `json:"emoji"`
	}{ServerFrameReactionRemoved, messageID, userID, emoji})
}

func EncodeError(message string) []byte {
	payload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{message})
	if err != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return payload
}
