package api

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/campuslink-io/campuslink-chat/internal/application/services"
	"github.com/campuslink-io/campuslink-chat/internal/auth"
	"github.com/campuslink-io/campuslink-chat/internal/domain"
	"github.com/campuslink-io/campuslink-chat/internal/infrastructure/database"
	"github.com/campuslink-io/campuslink-chat/internal/infrastructure/fanout"
	ws "github.com/campuslink-io/campuslink-chat/internal/infrastructure/websocket"
	"github.com/campuslink-io/campuslink-chat/internal/logger"
	"github.com/campuslink-io/campuslink-chat/internal/notify"
)

type liveFixture struct {
	server        *httptest.Server
	db            *gorm.DB
	registry      *fanout.LocalRegistry
	authenticator *auth.Authenticator
	conversations services.ConversationService
	chat          services.ChatService
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "chat.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := logger.New("error")
	registry := fanout.NewLocalRegistry(log)
	authenticator := auth.NewAuthenticator("test-access", "test-refresh", time.Hour, time.Hour)
	conversations := services.NewConversationService(db)
	chat := services.NewChatService(db)

	deps := &ws.Deps{
		ChatService:         chat,
		ConversationService: conversations,
		Registry:            registry,
		Notifier:            notify.NewLogTrigger(log),
		Log:                 log,
	}
	router := NewRouter(
		authenticator,
		NewWebSocketHandler(authenticator, deps, log),
		NewConversationHandler(conversations, chat, log),
		log,
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &liveFixture{
		server:        server,
		db:            db,
		registry:      registry,
		authenticator: authenticator,
		conversations: conversations,
		chat:          chat,
	}
}

func (f *liveFixture) seedUser(t *testing.T, username string) uuid.UUID {
	t.Helper()
	u := domain.User{ID: uuid.New(), Email: username + "@campus.test", Username: username}
	require.NoError(t, f.db.Create(&u).Error)
	return u.ID
}

func (f *liveFixture) dial(t *testing.T, conversationID, userID uuid.UUID) *gws.Conn {
	t.Helper()
	access, _, err := f.authenticator.GenerateTokens(userID)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + conversationID.String() + "?token=" + access
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *liveFixture) waitForSubscribers(t *testing.T, conversationID uuid.UUID, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.registry.SubscriberCount(conversationID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never reached %d subscribers for conversation %s", want, conversationID)
}

func readFrame(t *testing.T, conn *gws.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func frameType(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	require.NoError(t, json.Unmarshal(frame["type"], &typ))
	return typ
}

func unreadCount(t *testing.T, db *gorm.DB, convID, userID uuid.UUID) int {
	t.Helper()
	var p domain.ConversationParticipant
	require.NoError(t, db.Where("conversation_id = ? AND user_id = ?", convID, userID).First(&p).Error)
	return p.UnreadCount
}

func TestLiveMessageRoundTrip(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, conv.ID, alice)
	bobConn := f.dial(t, conv.ID, bob)
	f.waitForSubscribers(t, conv.ID, 2)

	require.NoError(t, aliceConn.WriteJSON(map[string]string{
		"type":    "chat_message",
		"content": "hi",
	}))

	// Bob receives exactly one chat_message with the stored content.
	frame := readFrame(t, bobConn)
	require.Equal(t, "chat_message", frameType(t, frame))
	var msg struct {
		ID      uuid.UUID `json:"id"`
		Content string    `json:"content"`
		Sender  struct {
			Username string `json:"username"`
		} `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(frame["message"], &msg))
	require.Equal(t, "hi", msg.Content)
	require.Equal(t, "alice", msg.Sender.Username)

	// Counter state after delivery: sender untouched, recipient at one.
	require.Equal(t, 0, unreadCount(t, f.db, conv.ID, alice))
	require.Equal(t, 1, unreadCount(t, f.db, conv.ID, bob))

	// Alice gets her own echo too.
	echo := readFrame(t, aliceConn)
	require.Equal(t, "chat_message", frameType(t, echo))

	// Bob marks the message read; his counter drains and Alice receives one
	// read receipt naming Bob.
	require.NoError(t, bobConn.WriteJSON(map[string]interface{}{
		"type":       "message_read",
		"message_id": msg.ID,
	}))
	receipt := readFrame(t, aliceConn)
	require.Equal(t, "read_receipt", frameType(t, receipt))
	var receiptUser string
	require.NoError(t, json.Unmarshal(receipt["username"], &receiptUser))
	require.Equal(t, "bob", receiptUser)
	require.Equal(t, 0, unreadCount(t, f.db, conv.ID, bob))
}

func TestLiveTypingIndicatorExcludesOrigin(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	aliceConn := f.dial(t, conv.ID, alice)
	bobConn := f.dial(t, conv.ID, bob)
	f.waitForSubscribers(t, conv.ID, 2)

	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "typing_start"}))

	frame := readFrame(t, bobConn)
	require.Equal(t, "typing_indicator", frameType(t, frame))
	var typing bool
	require.NoError(t, json.Unmarshal(frame["typing"], &typing))
	require.True(t, typing)

	// Alice must not hear her own typing; the next thing she receives is the
	// chat message, not a typing indicator.
	require.NoError(t, aliceConn.WriteJSON(map[string]string{"type": "chat_message", "content": "done typing"}))
	next := readFrame(t, aliceConn)
	require.Equal(t, "chat_message", frameType(t, next))
}

func TestLiveReactionFanout(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)
	msg, err := f.chat.SendMessage(alice, conv.ID, "react to this", domain.MessageTypeText, "", nil, nil)
	require.NoError(t, err)

	aliceConn := f.dial(t, conv.ID, alice)
	bobConn := f.dial(t, conv.ID, bob)
	f.waitForSubscribers(t, conv.ID, 2)

	require.NoError(t, bobConn.WriteJSON(map[string]interface{}{
		"type":       "add_reaction",
		"message_id": msg.ID,
		"emoji":      "👍",
	}))
	frame := readFrame(t, aliceConn)
	require.Equal(t, "reaction_added", frameType(t, frame))

	require.NoError(t, bobConn.WriteJSON(map[string]interface{}{
		"type":       "remove_reaction",
		"message_id": msg.ID,
		"emoji":      "👍",
	}))
	frame = readFrame(t, aliceConn)
	require.Equal(t, "reaction_removed", frameType(t, frame))

	var count int64
	require.NoError(t, f.db.Model(&domain.MessageReaction{}).Where("message_id = ?", msg.ID).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestLiveMalformedFrameKeepsConnection(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	conn := f.dial(t, conv.ID, alice)
	f.waitForSubscribers(t, conv.ID, 1)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{not json`)))
	frame := readFrame(t, conn)
	require.Contains(t, frame, "error")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "video_call"}))
	frame = readFrame(t, conn)
	require.Contains(t, frame, "error")

	// The session survived both rejections.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat_message", "content": "still here"}))
	frame = readFrame(t, conn)
	require.Equal(t, "chat_message", frameType(t, frame))
}

func TestLiveNonParticipantIsRefused(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")
	mallory := f.seedUser(t, "mallory")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	// The handshake completes, then the membership gate closes the
	// connection before any frame is processed.
	conn := f.dial(t, conv.ID, mallory)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.True(t, gws.IsCloseError(err, gws.ClosePolicyViolation))
	require.Equal(t, 0, f.registry.SubscriberCount(conv.ID))
}

func TestLiveAnonymousIsRefusedIdentically(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	// Forged token: handshake still completes, refusal is indistinguishable
	// from the non-participant case.
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + conv.ID.String() + "?token=forged.token.zzz"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.True(t, gws.IsCloseError(err, gws.ClosePolicyViolation))
}

func TestLiveEmptyMessageIsNoOp(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	conn := f.dial(t, conv.ID, alice)
	f.waitForSubscribers(t, conv.ID, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat_message", "content": ""}))
	// No error, no message: the next frame received is the echo of a real
	// message sent afterwards.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat_message", "content": "real"}))
	frame := readFrame(t, conn)
	require.Equal(t, "chat_message", frameType(t, frame))
	var msg struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(frame["message"], &msg))
	require.Equal(t, "real", msg.Content)

	var count int64
	require.NoError(t, f.db.Model(&domain.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestLiveDisconnectUnsubscribes(t *testing.T) {
	f := newLiveFixture(t)
	alice := f.seedUser(t, "alice")
	bob := f.seedUser(t, "bob")

	conv, err := f.conversations.CreatePrivateConversation(alice, bob)
	require.NoError(t, err)

	conn := f.dial(t, conv.ID, alice)
	f.waitForSubscribers(t, conv.ID, 1)

	require.NoError(t, conn.Close())
	f.waitForSubscribers(t, conv.ID, 0)
}
