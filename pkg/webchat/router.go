package webchat

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// NewRouter mounts the REST endpoints and the /ws upgrade endpoint.
func NewRouter(h *Handlers, hub *StreamHub) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/users/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/users/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/users/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/users/logout", h.handleLogout).Methods(http.MethodPost)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	r.Handle("/ws", NewWSHTTPHandler(h.tokens, hub, upgrader)).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(h.tokens.RequireAuth)
	authed.HandleFunc("/users/me", h.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/me", h.handleMyConversation).Methods(http.MethodGet)
	authed.HandleFunc("/conversations", h.handleListConversations).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id:[0-9]+}/messages", h.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/conversations/{id:[0-9]+}/messages", h.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id:[0-9]+}/read", h.handleMarkRead).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// NewWSHTTPHandler authenticates the upgrade request (bearer header or token
// query parameter) and hands the connection to the hub.
func NewWSHTTPHandler(tokens *TokenIssuer, hub *StreamHub, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if hub == nil || tokens == nil {
			writeError(w, http.StatusServiceUnavailable, "stream service not initialized")
			return
		}
		tok := bearerToken(req, true)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := tokens.Parse(tok, tokenKindAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "webchat").Msg("ws upgrade failed")
			return
		}
		if err := hub.AttachWebSocket(conn, p); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","data":{"message":"failed to attach websocket"}}`))
			_ = conn.Close()
		}
	}
}
