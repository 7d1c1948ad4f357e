package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"betabae/cmd/identity/ids"
	"betabae/cmd/internal/match"
)

// MemoryStore is an in-memory Store for dev mode and tests. It resolves
// conversation parties through the match store, the same relation the
// Postgres implementation expresses as a join.
type MemoryStore struct {
	matches match.Store

	mu            sync.RWMutex
	conversations map[string]Conversation
	byMatch       map[string]string // match id -> conversation id
	messages      map[string][]Message
}

// NewMemoryStore constructs an empty in-memory chat store.
func NewMemoryStore(matches match.Store) *MemoryStore {
	return &MemoryStore{
		matches:       matches,
		conversations: make(map[string]Conversation),
		byMatch:       make(map[string]string),
		messages:      make(map[string][]Message),
	}
}

// CreateConversation inserts the conversation backing an accepted match.
func (s *MemoryStore) CreateConversation(ctx context.Context, matchID string, typ Type, now time.Time) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, err
	}

	c := Conversation{
		ID:        id,
		MatchID:   matchID,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byMatch[matchID]; ok {
		return Conversation{}, ErrConversationExists
	}
	s.conversations[id] = c
	s.byMatch[matchID] = id
	return c, nil
}

// ConversationByMatch returns the conversation created for a match.
func (s *MemoryStore) ConversationByMatch(ctx context.Context, matchID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMatch[matchID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.conversations[id], nil
}

// GetConversation loads a conversation with its match parties.
func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (ConversationInfo, error) {
	if err := ctx.Err(); err != nil {
		return ConversationInfo{}, err
	}

	s.mu.RLock()
	c, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return ConversationInfo{}, ErrNotFound
	}

	m, err := s.matches.GetByID(ctx, c.MatchID)
	if err != nil {
		return ConversationInfo{}, err
	}

	return ConversationInfo{
		Conversation: c,
		RequesterID:  m.RequesterID,
		RequestedID:  m.RequestedID,
	}, nil
}

// ListByUser returns the user's conversations, most recently active first.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]ConversationInfo, error) {
	all, err := s.matches.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]ConversationInfo, 0, len(all))
	for _, m := range all {
		if m.Status != match.StatusAccepted {
			continue
		}
		convID, ok := s.byMatch[m.ID]
		if !ok {
			continue
		}
		out = append(out, ConversationInfo{
			Conversation: s.conversations[convID],
			RequesterID:  m.RequesterID,
			RequestedID:  m.RequestedID,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// TouchConversation bumps updated_at.
func (s *MemoryStore) TouchConversation(ctx context.Context, conversationID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = now
	s.conversations[conversationID] = c
	return nil
}

// CreateMessage appends a message row.
func (s *MemoryStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		SentAt:         now,
		IsRead:         in.IsRead,
		AttachmentURL:  in.AttachmentURL,
	}
	if in.IsRead {
		t := now
		m.ReadAt = &t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[in.ConversationID]; !ok {
		return Message{}, ErrNotFound
	}
	s.messages[in.ConversationID] = append(s.messages[in.ConversationID], m)
	return m, nil
}

// ListMessages returns up to Limit messages newest first, id < Before when set.
func (s *MemoryStore) ListMessages(ctx context.Context, in ListMessagesInput) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	before := strings.TrimSpace(in.Before)

	s.mu.RLock()
	snap := append([]Message(nil), s.messages[in.ConversationID]...)
	s.mu.RUnlock()

	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].SentAt.Equal(snap[j].SentAt) {
			return snap[i].SentAt.After(snap[j].SentAt)
		}
		return snap[i].ID > snap[j].ID
	})

	out := make([]Message, 0, limit)
	for _, m := range snap {
		if before != "" && m.ID >= before {
			continue
		}
		if in.TextOnly && m.AttachmentURL != "" {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetMessage loads one message scoped to its conversation.
func (s *MemoryStore) GetMessage(ctx context.Context, conversationID, messageID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// LastMessage returns the newest message, or ErrNoMessages.
func (s *MemoryStore) LastMessage(ctx context.Context, conversationID string) (Message, error) {
	msgs, err := s.ListMessages(ctx, ListMessagesInput{ConversationID: conversationID, Limit: 1})
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, ErrNoMessages
	}
	return msgs[0], nil
}

// MarkRead flips unread messages not sent by readerID to read.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, readerID string, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID == readerID || msgs[i].IsRead {
			continue
		}
		msgs[i].IsRead = true
		t := now
		msgs[i].ReadAt = &t
		n++
	}
	return n, nil
}
