package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuslink-io/campuslink-chat/internal/auth"
)

type contextKey string

const principalKey contextKey = "principal"

func principalFrom(r *http.Request) uuid.UUID {
	if id, ok := r.Context().Value(principalKey).(uuid.UUID); ok {
		return id
	}
	return auth.Anonymous
}

// requireAuth guards the REST surface. Unlike the websocket path, REST may
// reveal the auth failure: connectionless clients need the 401 to refresh
// their token.
func requireAuth(authenticator *auth.Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := authenticator.ResolvePrincipal(r)
			if principal == auth.Anonymous {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRouter wires the full HTTP surface: the live websocket endpoint, the
// REST mirror, metrics, and liveness.
func NewRouter(authenticator *auth.Authenticator, wsHandler *WebSocketHandler, convHandler *ConversationHandler, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws/{conversation_id}", wsHandler.ServeChatWS).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(requireAuth(authenticator))
	apiRouter.HandleFunc("/conversations", convHandler.List).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/private", convHandler.CreatePrivate).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/group", convHandler.CreateGroup).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{conversation_id}/messages", convHandler.Messages).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/{conversation_id}/read", convHandler.MarkRead).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{conversation_id}/participants", convHandler.AddParticipant).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{conversation_id}/participants/{user_id}", convHandler.RemoveParticipant).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/conversations/{conversation_id}/prefs", convHandler.UpdatePrefs).Methods(http.MethodPatch)
	apiRouter.HandleFunc("/messages/{message_id}/reactions", convHandler.AddReaction).Methods(http.MethodPost)
	apiRouter.HandleFunc("/messages/{message_id}/reactions", convHandler.RemoveReaction).Methods(http.MethodDelete)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}
