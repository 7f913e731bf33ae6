package gateway

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/socials/chat-server/internal/auth"
	"github.com/socials/chat-server/internal/data"
	"github.com/socials/chat-server/internal/metrics"
	"github.com/socials/chat-server/internal/presence"
)

const (
	// How long a typing indicator stays valid without further activity
	// before the gateway synthesizes a user-stopped-typing on the
	// sender's behalf.
	typingExpiry = 5 * time.Second

	// Deadline for a single chat store operation triggered by an event.
	storeTimeout = 5 * time.Second

	handshakeTimeout = 10 * time.Second
)

// ChatStore is the subset of the chats store the gateway needs.
type ChatStore interface {
	ConversationIDs(ctx context.Context, userID bson.ObjectID) ([]bson.ObjectID, error)
	GetConversation(ctx context.Context, id bson.ObjectID) (*data.Conversation, error)
	AppendMessage(ctx context.Context, convID, senderID bson.ObjectID, content string) (*data.Message, error)
	MarkRead(ctx context.Context, convID, readerID bson.ObjectID) (bool, error)
}

// UserDirectory is the subset of the users store the gateway needs.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	SetPresence(ctx context.Context, id bson.ObjectID, online bool, lastSeen time.Time) error
}

// TokenVerifier validates the credential presented at the handshake.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Gateway authenticates websocket connections, tracks room membership and
// routes events between clients and the chat store. One instance is built
// by the composition root and shared with the REST handlers so both send
// paths fan out identically.
type Gateway struct {
	verifier TokenVerifier
	users    UserDirectory
	chats    ChatStore
	tracker  *presence.Tracker
	rooms    *RoomSet
	upgrader websocket.Upgrader

	typingExpiry time.Duration

	mu      sync.RWMutex
	clients map[string]*Client     // connection id -> client
	typing  map[string]*time.Timer // connection id + "/" + conversation id
}

// New returns a Gateway wired to the given collaborators. allowedOrigin
// restricts the websocket handshake origin; "*" accepts any.
func New(verifier TokenVerifier, users UserDirectory, chats ChatStore, tracker *presence.Tracker, allowedOrigin string) *Gateway {
	g := &Gateway{
		verifier:     verifier,
		users:        users,
		chats:        chats,
		tracker:      tracker,
		rooms:        NewRoomSet(),
		typingExpiry: typingExpiry,
		clients:      make(map[string]*Client),
		typing:       make(map[string]*time.Timer),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return g
}

// HandleWS upgrades an incoming request into an authenticated realtime
// connection. The credential is verified before the upgrade: a connection
// that fails authentication never reaches the registered state.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}

	claims, err := g.verifier.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID, err := claims.Subject()
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(g, conn, user)
	g.register(ctx, c)

	go c.writePump()
	go c.readPump()
}

// register records the connection, joins its conversation rooms and, on
// the user's first connection, flips the durable online flag and announces
// user-online.
func (g *Gateway) register(ctx context.Context, c *Client) {
	g.mu.Lock()
	g.clients[c.ID] = c
	g.mu.Unlock()

	first := g.tracker.Register(c.User.ID.Hex(), c.ID)
	metrics.ConnectionsActive.Inc()

	// Bulk join: messages in any of the user's conversations are delivered
	// live even before the client explicitly opens that conversation.
	ids, err := g.chats.ConversationIDs(ctx, c.User.ID)
	if err != nil {
		log.Printf("gateway: conversation join for %s failed: %v", c.User.Username, err)
	}
	for _, id := range ids {
		g.rooms.Join(id.Hex(), c)
	}

	if first {
		if err := g.users.SetPresence(ctx, c.User.ID, true, time.Time{}); err != nil {
			log.Printf("gateway: online flag for %s failed: %v", c.User.Username, err)
		}
		if payload, err := NewServerEvent(EventUserOnline, PresencePayload{UserID: c.User.ID.Hex()}); err == nil {
			g.broadcastAll(payload, c)
		}
	}

	log.Printf("gateway: %s connected (conn=%s)", c.User.Username, c.ID)
}

// disconnect tears a connection down: room membership, typing timers and
// presence are all cleared before the send channel closes. Runs exactly
// once per client regardless of how the connection died.
func (g *Gateway) disconnect(c *Client) {
	c.stopOnce.Do(func() {
		g.mu.Lock()
		delete(g.clients, c.ID)
		expired := make([]string, 0)
		for key, timer := range g.typing {
			if strings.HasPrefix(key, c.ID+"/") {
				timer.Stop()
				expired = append(expired, strings.TrimPrefix(key, c.ID+"/"))
				delete(g.typing, key)
			}
		}
		g.mu.Unlock()

		// Clear any typing indicator the departed connection left behind.
		for _, convID := range expired {
			g.broadcastTyping(EventUserStoppedTyping, convID, c)
		}

		g.rooms.LeaveAll(c)
		metrics.ConnectionsActive.Dec()

		userID, last, ok := g.tracker.Remove(c.ID)
		if ok && last {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := g.users.SetPresence(ctx, c.User.ID, false, time.Now()); err != nil {
				log.Printf("gateway: offline flag for %s failed: %v", c.User.Username, err)
			}
			if payload, err := NewServerEvent(EventUserOffline, PresencePayload{UserID: userID}); err == nil {
				g.broadcastAll(payload, c)
			}
		}

		c.closeSend()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		log.Printf("gateway: %s disconnected (conn=%s)", c.User.Username, c.ID)
	})
}

// dispatch routes one inbound frame to its handler.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	event, payload, err := ParseClientEvent(raw)
	if err != nil {
		g.sendError(c, "invalid event")
		return
	}
	metrics.EventsTotal.WithLabelValues(event).Inc()

	switch event {
	case EventJoinConversation:
		g.handleJoin(c, payload.(ConversationRef))
	case EventLeaveConversation:
		g.handleLeave(c, payload.(ConversationRef))
	case EventSendMessage:
		g.handleSendMessage(c, payload.(SendMessagePayload))
	case EventTypingStart:
		g.handleTyping(c, payload.(ConversationRef), true)
	case EventTypingStop:
		g.handleTyping(c, payload.(ConversationRef), false)
	case EventMarkRead:
		g.handleMarkRead(c, payload.(ConversationRef))
	}
}

// handleJoin adds the connection to a conversation room. Non-participants
// and malformed ids are ignored without an error event, matching the
// documented no-op behavior; nothing here mutates persisted state.
func (g *Gateway) handleJoin(c *Client, p ConversationRef) {
	convID, err := bson.ObjectIDFromHex(p.ConversationID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	conv, err := g.chats.GetConversation(ctx, convID)
	if err != nil || !conv.HasParticipant(c.User.ID) {
		log.Printf("gateway: join %s by %s refused", p.ConversationID, c.User.Username)
		return
	}

	g.rooms.Join(convID.Hex(), c)
}

func (g *Gateway) handleLeave(c *Client, p ConversationRef) {
	if _, err := bson.ObjectIDFromHex(p.ConversationID); err != nil {
		return
	}
	g.rooms.Leave(p.ConversationID, c)
}

// handleSendMessage persists the message and only then fans it out. A
// failed append produces a scoped error event to the sender and nothing
// else: no broadcast ever announces a message that was not durably saved.
func (g *Gateway) handleSendMessage(c *Client, p SendMessagePayload) {
	convID, err := bson.ObjectIDFromHex(p.ConversationID)
	if err != nil {
		g.sendError(c, "invalid conversation id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	conv, err := g.chats.GetConversation(ctx, convID)
	if err != nil {
		g.sendError(c, storeErrorMessage(err))
		return
	}

	msg, err := g.chats.AppendMessage(ctx, convID, c.User.ID, p.Content)
	if err != nil {
		g.sendError(c, storeErrorMessage(err))
		return
	}

	g.FanoutMessage(conv, msg)
}

// handleTyping relays a transient typing signal to the other room members.
// Delivery is best-effort and never persisted. On typing-start the expiry
// timer is (re)armed so a vanished client cannot leave a stuck indicator.
func (g *Gateway) handleTyping(c *Client, p ConversationRef, start bool) {
	convID := p.ConversationID
	if _, err := bson.ObjectIDFromHex(convID); err != nil {
		return
	}
	// Only relay for rooms this connection actually joined.
	if !g.rooms.Contains(convID, c) {
		return
	}

	key := c.ID + "/" + convID
	g.mu.Lock()
	if timer, ok := g.typing[key]; ok {
		timer.Stop()
		delete(g.typing, key)
	}
	if start {
		g.typing[key] = time.AfterFunc(g.typingExpiry, func() {
			g.mu.Lock()
			delete(g.typing, key)
			g.mu.Unlock()
			g.broadcastTyping(EventUserStoppedTyping, convID, c)
		})
	}
	g.mu.Unlock()

	if start {
		g.broadcastTyping(EventUserTyping, convID, c)
	} else {
		g.broadcastTyping(EventUserStoppedTyping, convID, c)
	}
}

func (g *Gateway) broadcastTyping(event, convID string, c *Client) {
	payload := TypingPayload{ConversationID: convID, UserID: c.User.ID.Hex()}
	if event == EventUserTyping {
		payload.Username = c.User.Username
	}
	raw, err := NewServerEvent(event, payload)
	if err != nil {
		return
	}
	g.rooms.Broadcast(convID, raw, c)
}

// handleMarkRead marks all unread messages addressed to the caller as read
// and, when anything changed, notifies the rest of the room so senders can
// update their read indicators.
func (g *Gateway) handleMarkRead(c *Client, p ConversationRef) {
	convID, err := bson.ObjectIDFromHex(p.ConversationID)
	if err != nil {
		g.sendError(c, "invalid conversation id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	changed, err := g.chats.MarkRead(ctx, convID, c.User.ID)
	if err != nil {
		g.sendError(c, storeErrorMessage(err))
		return
	}
	if !changed {
		return
	}

	raw, err := NewServerEvent(EventMessagesRead, MessagesReadPayload{
		ConversationID: p.ConversationID,
		UserID:         c.User.ID.Hex(),
	})
	if err != nil {
		return
	}
	g.rooms.Broadcast(p.ConversationID, raw, c)
}

// FanoutMessage delivers a durably appended message: new-message to every
// member of the conversation room, conversation-updated to each of the
// participants' other live connections. The REST send path calls this too,
// so a message sent over the cold path reaches recipients exactly as a
// socket send would.
func (g *Gateway) FanoutMessage(conv *data.Conversation, msg *data.Message) {
	start := time.Now()
	convID := conv.ID.Hex()

	newMsg, err := NewServerEvent(EventNewMessage, NewMessagePayload{
		ConversationID: convID,
		Message:        msg,
	})
	if err != nil {
		log.Printf("gateway: encode new-message failed: %v", err)
		return
	}
	g.rooms.Broadcast(convID, newMsg, nil)

	updated, err := NewServerEvent(EventConversationUpdated, ConversationUpdatedPayload{
		ConversationID: convID,
		LastMessage:    msg,
	})
	if err != nil {
		log.Printf("gateway: encode conversation-updated failed: %v", err)
		return
	}

	// Personal delivery: connections of either participant that do not
	// have the conversation room open still learn about the new message.
	for _, participant := range conv.Participants {
		for _, connID := range g.tracker.Connections(participant.Hex()) {
			g.mu.RLock()
			c := g.clients[connID]
			g.mu.RUnlock()
			if c == nil || g.rooms.Contains(convID, c) {
				continue
			}
			c.enqueue(updated)
		}
	}

	metrics.FanoutDuration.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("fanout").Inc()
}

// broadcastAll delivers a payload to every live connection except the
// given one. Used for the global presence notifications; acceptable at the
// deployment's expected scale.
func (g *Gateway) broadcastAll(payload []byte, except *Client) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.clients {
		if c == except {
			continue
		}
		c.enqueue(payload)
	}
}

// sendError emits an error event to one connection only.
func (g *Gateway) sendError(c *Client, msg string) {
	raw, err := NewServerEvent(EventError, ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// storeErrorMessage maps store errors to client-facing text without
// leaking internals of unexpected failures.
func storeErrorMessage(err error) string {
	switch err {
	case data.ErrConversationNotFound, data.ErrNotParticipant,
		data.ErrEmptyContent, data.ErrContentTooLong, data.ErrSelfConversation,
		data.ErrUserNotFound:
		return err.Error()
	default:
		return "failed to process message"
	}
}

// Shutdown closes every live connection. Pending disconnect cleanup runs
// through the usual read pump error path.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}
