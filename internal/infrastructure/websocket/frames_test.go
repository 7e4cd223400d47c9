package websocket

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/campuslink-io/campuslink-chat/internal/domain"
)

func TestDecodeClientFrame(t *testing.T) {
	msgID := uuid.New()

	tests := []struct {
		name     string
		input    string
		wantType ClientFrameType
		wantErr  error
	}{
		{
			name:     "chat message",
			input:    `{"type":"chat_message","content":"hello"}`,
			wantType: FrameChatMessage,
		},
		{
			name:     "typing start",
			input:    `{"type":"typing_start"}`,
			wantType: FrameTypingStart,
		},
		{
			name:     "typing stop",
			input:    `{"type":"typing_stop"}`,
			wantType: FrameTypingStop,
		},
		{
			name:     "message read",
			input:    `{"type":"message_read","message_id":"` + msgID.String() + `"}`,
			wantType: FrameMessageRead,
		},
		{
			name:     "add reaction",
			input:    `{"type":"add_reaction","message_id":"` + msgID.String() + `","emoji":"👍"}`,
			wantType: FrameAddReaction,
		},
		{
			name:     "remove reaction",
			input:    `{"type":"remove_reaction","message_id":"` + msgID.String() + `","emoji":"👍"}`,
			wantType: FrameRemoveReaction,
		},
		{
			name:    "malformed json",
			input:   `{"type":`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "missing type tag",
			input:   `{"content":"hello"}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown type",
			input:   `{"type":"video_call"}`,
			wantErr: ErrUnknownFrameType,
		},
		{
			name:    "message read without id",
			input:   `{"type":"message_read"}`,
			wantErr: ErrMissingMessageID,
		},
		{
			name:    "reaction without emoji",
			input:   `{"type":"add_reaction","message_id":"` + msgID.String() + `"}`,
			wantErr: ErrMissingEmoji,
		},
		{
			name:    "reaction without message id",
			input:   `{"type":"remove_reaction","emoji":"👍"}`,
			wantErr: ErrMissingMessageID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeClientFrame([]byte(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantType, frame.Type)
		})
	}
}

func TestDecodeClientFramePayloads(t *testing.T) {
	msgID := uuid.New()
	replyID := uuid.New()

	frame, err := DecodeClientFrame([]byte(`{"type":"chat_message","content":"hi","message_type":"image","media_url":"https://cdn.test/x.png","reply_to_message_id":"` + replyID.String() + `"}`))
	require.NoError(t, err)
	require.NotNil(t, frame.ChatMessage)
	require.Equal(t, "hi", frame.ChatMessage.Content)
	require.Equal(t, "image", frame.ChatMessage.MessageType)
	require.Equal(t, "https://cdn.test/x.png", frame.ChatMessage.MediaURL)
	require.Equal(t, replyID, *frame.ChatMessage.ReplyToMessageID)

	frame, err = DecodeClientFrame([]byte(`{"type":"add_reaction","message_id":"` + msgID.String() + `","emoji":"🎉"}`))
	require.NoError(t, err)
	require.NotNil(t, frame.Reaction)
	require.Equal(t, msgID, frame.Reaction.MessageID)
	require.Equal(t, "🎉", frame.Reaction.Emoji)
}

func TestEncodeChatMessage(t *testing.T) {
	sender := domain.User{ID: uuid.New(), Username: "alice"}
	m := &domain.Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       sender.ID,
		Sender:         sender,
		Content:        "hello",
		MessageType:    domain.MessageTypeText,
		MediaURL:       sql.NullString{String: "https://cdn.test/a.png", Valid: true},
		CreatedAt:      time.Now(),
	}

	payload, err := EncodeChatMessage(m)
	require.NoError(t, err)

	var decoded struct {
		Type    string `json:"type"`
		Message struct {
			ID      uuid.UUID `json:"id"`
			Content string    `json:"content"`
			Sender  struct {
				Username string `json:"username"`
			} `json:"sender"`
			MediaURL  *string `json:"media_url"`
			CreatedAt string  `json:"created_at"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "chat_message", decoded.Type)
	require.Equal(t, m.ID, decoded.Message.ID)
	require.Equal(t, "hello", decoded.Message.Content)
	require.Equal(t, "alice", decoded.Message.Sender.Username)
	require.NotNil(t, decoded.Message.MediaURL)
	require.NotEmpty(t, decoded.Message.CreatedAt)
}

func TestEncodeServerFrames(t *testing.T) {
	userID := uuid.New()
	msgID := uuid.New()

	payload, err := EncodeTypingIndicator(userID, "alice", true)
	require.NoError(t, err)
	var typing map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &typing))
	require.Equal(t, "typing_indicator", typing["type"])
	require.Equal(t, true, typing["typing"])

	payload, err = EncodeReadReceipt(msgID, userID, "alice")
	require.NoError(t, err)
	var receipt map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &receipt))
	require.Equal(t, "read_receipt", receipt["type"])
	require.Equal(t, msgID.String(), receipt["message_id"])

	payload, err = EncodeReactionRemoved(msgID, userID, "👍")
	require.NoError(t, err)
	var removed map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &removed))
	require.Equal(t, "reaction_removed", removed["type"])
	require.Equal(t, "👍", removed["emoji"])
}

func TestEncodeErrorAlwaysValidJSON(t *testing.T) {
	payload := EncodeError(`broken "quoted" input`)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Contains(t, decoded["error"], "quoted")
}
