package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/campuslink-io/campuslink-chat/internal/auth"
	ws "github.com/campuslink-io/campuslink-chat/internal/infrastructure/websocket"
)

type WebSocketHandler struct {
	authenticator *auth.Authenticator
	deps          *ws.Deps
	log           *slog.Logger
}

func NewWebSocketHandler(authenticator *auth.Authenticator, deps *ws.Deps, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{authenticator: authenticator, deps: deps, log: log}
}

// ServeChatWS handles GET /ws/{conversation_id}. The credential is resolved
// before any conversation logic; an unresolvable credential becomes the
// anonymous principal and is turned away by the session's membership gate,
// not here.
func (h *WebSocketHandler) ServeChatWS(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(mux.Vars(r)["conversation_id"])
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	principal := h.authenticator.ResolvePrincipal(r)
	ws.ServeWS(h.deps, w, r, principal, conversationID)
}
