package chat

import (
	"strings"
	"time"
)

// Type tags a conversation with its delivery mode.
//
// Dispatch on Type is always an exhaustive switch whose default arm returns
// ErrUnsupportedType, so a third mode shows up as a compile-visible gap in
// the dispatcher rather than a silent string mismatch.
type Type string

const (
	// TypeRealBae is a human-to-human conversation with live delivery and
	// unread accounting.
	TypeRealBae Type = "REAL_BAE"

	// TypeBetaBae is a conversation with the automated responder; replies are
	// synchronous and never broadcast.
	TypeBetaBae Type = "BETA_BAE"
)

// ParseType validates a conversation type string.
func ParseType(s string) (Type, error) {
	switch Type(strings.TrimSpace(s)) {
	case TypeRealBae:
		return TypeRealBae, nil
	case TypeBetaBae:
		return TypeBetaBae, nil
	default:
		return "", ErrUnsupportedType
	}
}

// BotSenderID is the synthetic sender recorded for automated replies.
const BotSenderID = "beta-bae"

// Conversation is the message thread created when a match is accepted.
type Conversation struct {
	ID        string
	MatchID   string
	Type      Type
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationInfo is a conversation plus the two parties of its owning
// match, which is exactly what access checks and counterpart routing need.
type ConversationInfo struct {
	Conversation
	RequesterID string
	RequestedID string
}

// Counterpart returns the other party of the conversation's match.
func (c ConversationInfo) Counterpart(userID string) string {
	if userID == c.RequesterID {
		return c.RequestedID
	}
	return c.RequesterID
}

// isParty reports whether userID belongs to the conversation's match.
func (c ConversationInfo) isParty(userID string) bool {
	return userID == c.RequesterID || userID == c.RequestedID
}

// Message is immutable once created except for the unread->read transition.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	SentAt         time.Time
	IsRead         bool
	ReadAt         *time.Time
	AttachmentURL  string
}

// ConversationSummary is one row of a user's conversation listing.
type ConversationSummary struct {
	Conversation Conversation
	PartnerID    string
	PartnerName  string
	UnreadCount  int64
	LastMessage  *Message
}

// ConversationList is the listing plus the aggregate unread badge.
type ConversationList struct {
	Conversations    []ConversationSummary
	TotalUnreadCount int64
}

// BotExchange is the result of a message sent into an automated conversation:
// the persisted user message and the persisted reply.
type BotExchange struct {
	UserMessage Message
	BotReply    Message
}

// AnalysisResult is the model's read on recent conversation history: a
// presentation line plus the untouched model output.
type AnalysisResult struct {
	Analysis string
	Raw      string
}
