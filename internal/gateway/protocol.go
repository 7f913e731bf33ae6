// Package gateway implements the realtime layer: websocket connections,
// room membership per conversation, and the event fan-out that follows
// every chat store mutation. All events are JSON with a consistent
// envelope: {"event": <name>, "data": <payload>}.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/socials/chat-server/internal/data"
)

// Client -> server event names.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTypingStart       = "typing-start"
	EventTypingStop        = "typing-stop"
	EventMarkRead          = "mark-read"
)

// Server -> client event names.
const (
	EventNewMessage          = "new-message"
	EventConversationUpdated = "conversation-updated"
	EventUserTyping          = "user-typing"
	EventUserStoppedTyping   = "user-stopped-typing"
	EventMessagesRead        = "messages-read"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventError               = "error"
)

// envelope is the wire shape of every event in both directions. Data is
// kept raw on inbound events so it can be decoded into the concrete
// payload once the event name is known.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ConversationRef is the payload of join-conversation, leave-conversation,
// typing-start, typing-stop and mark-read.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the payload of send-message.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// NewMessagePayload is broadcast to a conversation room after a message
// was durably appended.
type NewMessagePayload struct {
	ConversationID string        `json:"conversationId"`
	Message        *data.Message `json:"message"`
}

// ConversationUpdatedPayload is delivered to participants who have a live
// connection but are not members of the conversation room.
type ConversationUpdatedPayload struct {
	ConversationID string        `json:"conversationId"`
	LastMessage    *data.Message `json:"lastMessage"`
}

// TypingPayload carries a transient typing indicator.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
}

// MessagesReadPayload notifies room members that a participant has read
// the conversation's messages.
type MessagesReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// PresencePayload carries user-online / user-offline notifications.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload is sent to the originating connection only; errors are
// never broadcast.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewServerEvent encodes a server event into its wire form.
func NewServerEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to marshal %q payload: %w", event, err)
	}
	return json.Marshal(envelope{Event: event, Data: raw})
}

// ParseClientEvent parses raw websocket bytes into the event name and its
// typed payload. Unknown or server-only event names are an error.
func ParseClientEvent(raw []byte) (string, any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("gateway: failed to parse event: %w", err)
	}
	if env.Event == "" {
		return "", nil, fmt.Errorf("gateway: missing event name")
	}

	var (
		payload any
		err     error
	)
	switch env.Event {
	case EventJoinConversation, EventLeaveConversation,
		EventTypingStart, EventTypingStop, EventMarkRead:
		var p ConversationRef
		err = json.Unmarshal(env.Data, &p)
		payload = p
	case EventSendMessage:
		var p SendMessagePayload
		err = json.Unmarshal(env.Data, &p)
		payload = p
	default:
		return env.Event, nil, fmt.Errorf("gateway: unknown client event %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("gateway: failed to decode %q payload: %w", env.Event, err)
	}
	return env.Event, payload, nil
}
