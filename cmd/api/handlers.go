package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/socials/chat-server/internal/auth"
	"github.com/socials/chat-server/internal/data"
	"github.com/socials/chat-server/internal/metrics"
	"github.com/socials/chat-server/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeStoreError maps store sentinel errors onto HTTP status codes.
// Anything unexpected is a 500 with a generic message.
func writeStoreError(w http.ResponseWriter, err error) {
	switch err {
	case data.ErrSelfConversation, data.ErrEmptyContent, data.ErrContentTooLong:
		writeError(w, http.StatusBadRequest, err.Error())
	case data.ErrNotParticipant:
		writeError(w, http.StatusForbidden, err.Error())
	case data.ErrConversationNotFound, data.ErrUserNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case data.ErrUserExists:
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("api: store error: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

// currentUserID pulls the authenticated user id from the request context.
func currentUserID(r *http.Request) (bson.ObjectID, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return bson.ObjectID{}, false
	}
	id, err := claims.Subject()
	if err != nil {
		return bson.ObjectID{}, false
	}
	return id, true
}

// handleRegister creates a user and returns a signed token with the
// public user record.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "username, email and a password of at least 6 characters are required")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := s.users.CreateUser(r.Context(), req.Username, strings.TrimSpace(req.FullName), req.Email, hashed)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	token, _, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": user})
}

// handleLogin authenticates a user and returns a signed token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Indistinguishable from a wrong password on purpose.
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, _, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// handleListChats returns the caller's conversation summaries, most recent
// first.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}

	summaries, err := s.chats.ListConversations(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": summaries})
}

// handleCreateChat returns the conversation with the given user, creating
// it on first contact.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}

	otherID, err := bson.ObjectIDFromHex(r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	conv, err := s.chats.GetOrCreateConversation(r.Context(), userID, otherID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": conv})
}

// handleListMessages returns one page of conversation history. Fetching a
// page marks its unread messages as read for the caller.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}

	convID, err := bson.ObjectIDFromHex(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	msgs, hasMore, err := s.chats.ListMessages(r.Context(), convID, userID, page, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "hasMore": hasMore})
}

// handleSendMessage is the cold-path send: it appends through the chat
// store and then routes through the gateway's fan-out, so recipients with
// live connections see the message exactly as if it had been sent over
// the socket.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}

	convID, err := bson.ObjectIDFromHex(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := s.chats.GetConversation(r.Context(), convID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	msg, err := s.chats.AppendMessage(r.Context(), convID, userID, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("rest").Inc()

	// Broadcast only after the append durably completed.
	s.gw.FanoutMessage(conv, msg)

	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}
