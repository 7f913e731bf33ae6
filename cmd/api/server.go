package main

import (
	"net/http"

	"github.com/socials/chat-server/internal/auth"
	"github.com/socials/chat-server/internal/data"
	"github.com/socials/chat-server/internal/gateway"
	"github.com/socials/chat-server/internal/metrics"
	"github.com/socials/chat-server/internal/middleware"
)

// Server bundles the REST façade's dependencies: the stores, the token
// manager and the realtime gateway used for post-append fan-out.
type Server struct {
	users *data.UsersStore
	chats *data.ChatsStore
	auth  *auth.JWTManager
	gw    *gateway.Gateway
}

// newServer returns a ready-to-use Server wired with stores, auth manager
// and gateway.
func newServer(users *data.UsersStore, chats *data.ChatsStore, authMgr *auth.JWTManager, gw *gateway.Gateway) *Server {
	return &Server{users: users, chats: chats, auth: authMgr, gw: gw}
}

// routes builds the HTTP handler tree. Login and registration are rate
// limited per email/IP; everything under /api/chats requires a bearer
// token. The websocket endpoint authenticates during its own handshake.
func (s *Server) routes(limiter *middleware.LimiterStore, allowedOrigin string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Socials API is running"})
	})

	limited := middleware.RateLimit(limiter)
	mux.Handle("POST /api/auth/register", limited(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(s.handleLogin)))

	protected := middleware.JWTAuth(s.auth)
	mux.Handle("GET /api/chats", protected(http.HandlerFunc(s.handleListChats)))
	mux.Handle("POST /api/chats/create/{userId}", protected(http.HandlerFunc(s.handleCreateChat)))
	mux.Handle("GET /api/chats/{id}/messages", protected(http.HandlerFunc(s.handleListMessages)))
	mux.Handle("POST /api/chats/{id}/messages", protected(http.HandlerFunc(s.handleSendMessage)))

	mux.HandleFunc("GET /ws", s.gw.HandleWS)
	mux.Handle("GET /metrics", metrics.Handler())

	return middleware.CORS(allowedOrigin)(mux)
}
