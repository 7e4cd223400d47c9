package domain

import "errors"

// Store-level failure modes. All are local, recoverable conditions: callers
// translate them into protocol or HTTP errors, never a crash.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotAParticipant      = errors.New("user is not an active participant of this conversation")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrSelfConversation     = errors.New("cannot open a private conversation with yourself")
)
