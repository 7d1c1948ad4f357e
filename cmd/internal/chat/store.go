package chat

import (
	"context"
	"time"
)

// CreateMessageInput describes a message insert.
type CreateMessageInput struct {
	ConversationID string
	SenderID       string
	Text           string
	IsRead         bool
	AttachmentURL  string
	Now            time.Time
}

// ListMessagesInput describes a cursor-paginated message query.
// Before is an exclusive upper bound on message id; message ids are ULIDs,
// so the comparison is plain lexicographic.
type ListMessagesInput struct {
	ConversationID string
	Limit          int
	Before         string

	// TextOnly excludes messages that carry an attachment.
	TextOnly bool
}

// Store is the conversation/message persistence boundary.
type Store interface {
	// CreateConversation inserts the conversation backing an accepted match.
	// A match backs at most one conversation; a second insert for the same
	// match returns ErrConversationExists.
	CreateConversation(ctx context.Context, matchID string, typ Type, now time.Time) (Conversation, error)

	// ConversationByMatch returns the conversation created for a match, or
	// ErrNotFound when the match has none.
	ConversationByMatch(ctx context.Context, matchID string) (Conversation, error)

	// GetConversation loads a conversation together with its match parties.
	// Returns ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, conversationID string) (ConversationInfo, error)

	// ListByUser returns the conversations of the user's accepted matches,
	// most recently active first.
	ListByUser(ctx context.Context, userID string) ([]ConversationInfo, error)

	// TouchConversation bumps updated_at; called on every message.
	TouchConversation(ctx context.Context, conversationID string, now time.Time) error

	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error)

	// ListMessages returns up to Limit messages newest first, restricted to
	// id < Before when set.
	ListMessages(ctx context.Context, in ListMessagesInput) ([]Message, error)

	// GetMessage loads one message scoped to its conversation. Returns
	// ErrMessageNotFound for unknown ids.
	GetMessage(ctx context.Context, conversationID, messageID string) (Message, error)

	// LastMessage returns the newest message, or ErrNoMessages.
	LastMessage(ctx context.Context, conversationID string) (Message, error)

	// MarkRead flips every unread message not sent by readerID to read and
	// stamps readAt. Returns the number of messages transitioned.
	MarkRead(ctx context.Context, conversationID, readerID string, now time.Time) (int64, error)
}
