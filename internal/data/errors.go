package data

import "errors"

// Sentinel errors returned by the stores. Handlers map these to HTTP status
// codes or scoped websocket error events; anything else is treated as a
// transient storage failure.
var (
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrSelfConversation     = errors.New("cannot create conversation with yourself")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrEmptyContent         = errors.New("message content is empty")
	ErrContentTooLong       = errors.New("message content exceeds the allowed length")
)
