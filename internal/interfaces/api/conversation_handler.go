package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/campuslink-io/campuslink-chat/internal/application/services"
	"github.com/campuslink-io/campuslink-chat/internal/domain"
)

// ConversationHandler is the request-response mirror of the live protocol,
// for clients without an open connection.
type ConversationHandler struct {
	conversations services.ConversationService
	chat          services.ChatService
	log           *slog.Logger
}

func NewConversationHandler(conversations services.ConversationService, chat services.ChatService, log *slog.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, chat: chat, log: log}
}

func (h *ConversationHandler) CreatePrivate(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	var body struct {
		PeerID uuid.UUID `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PeerID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	conv, err := h.conversations.CreatePrivateConversation(userID, body.PeerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	var body struct {
		GroupID string `json:"group_id"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GroupID == "" {
		writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	conv, err := h.conversations.CreateGroupConversation(userID, body.GroupID, body.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	limit, offset := paging(r)

	rows, err := h.conversations.ListConversations(userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	conversationID, ok := pathUUID(w, r, "conversation_id")
	if !ok {
		return
	}

	active, err := h.conversations.IsActiveParticipant(conversationID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !active {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	limit, offset := paging(r)
	messages, err := h.chat.GetMessagesByConversation(conversationID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// MarkRead is the conversation-level read: counter reset plus read-by
// backfill.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	conversationID, ok := pathUUID(w, r, "conversation_id")
	if !ok {
		return
	}

	if err := h.conversations.MarkConversationRead(conversationID, userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	conversationID, ok := pathUUID(w, r, "conversation_id")
	if !ok {
		return
	}

	active, err := h.conversations.IsActiveParticipant(conversationID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !active {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	var body struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	participant, err := h.conversations.AddParticipant(conversationID, body.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

// RemoveParticipant lets a member leave; history stays.
func (h *ConversationHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	conversationID, ok := pathUUID(w, r, "conversation_id")
	if !ok {
		return
	}
	target, err := uuid.Parse(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if target != userID {
		// Only self-removal for now; group admin removal belongs to the
		// moderation surface.
		writeError(w, http.StatusForbidden, "can only remove yourself")
		return
	}

	if err := h.conversations.RemoveParticipant(conversationID, target); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) UpdatePrefs(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	conversationID, ok := pathUUID(w, r, "conversation_id")
	if !ok {
		return
	}

	var prefs services.ParticipantPrefs
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.conversations.UpdateParticipantPrefs(conversationID, userID, prefs); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	messageID, ok := pathUUID(w, r, "message_id")
	if !ok {
		return
	}
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	reaction, err := h.chat.AddReaction(messageID, userID, body.Emoji)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reaction)
}

func (h *ConversationHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID := principalFrom(r)
	messageID, ok := pathUUID(w, r, "message_id")
	if !ok {
		return
	}
	emoji := r.URL.Query().Get("emoji")
	if emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji query parameter is required")
		return
	}

	if err := h.chat.RemoveReaction(messageID, userID, emoji); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeServiceError maps store failure modes onto HTTP statuses.
func (h *ConversationHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotAParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrSelfConversation), errors.Is(err, domain.ErrInvalidMessageType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func paging(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
