package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"betabae/cmd/identity"
	"betabae/cmd/internal/media"
)

const (
	// maxMessageBytes bounds a single text message.
	maxMessageBytes = 4096

	// defaultPageSize is the message page size when the caller passes none.
	defaultPageSize = 20

	// maxPageSize caps the message page size.
	maxPageSize = 100

	// analysisContextSize is how many trailing text messages feed an analysis.
	analysisContextSize = 10
)

// Service routes every message through a per-conversation-type dispatch.
// REAL_BAE messages are persisted unread and counted for the counterpart;
// BETA_BAE messages produce a synchronous automated reply and never touch
// unread counters or live delivery.
type Service struct {
	log    *slog.Logger
	users  identity.Store
	store  Store
	unread UnreadCounter
	bot    BotResponder
	media  media.Store
}

// NewService constructs the conversation dispatcher.
func NewService(log *slog.Logger, users identity.Store, store Store, unread UnreadCounter, bot BotResponder, mediaStore media.Store) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if users == nil || store == nil || unread == nil || bot == nil || mediaStore == nil {
		return nil, ErrInvalidInput
	}
	return &Service{
		log:    log,
		users:  users,
		store:  store,
		unread: unread,
		bot:    bot,
		media:  mediaStore,
	}, nil
}

// SendOutcome is what a dispatched send produced. BotReply is set only for
// automated conversations.
type SendOutcome struct {
	Conversation ConversationInfo
	Message      Message
	BotReply     *Message
}

// CreateForMatch creates the conversation backing a newly accepted match and
// returns its id. It satisfies the match service's conversation hook and is
// idempotent: when the match already carries a conversation, that one's id is
// returned, so an accept retried after a partial failure converges instead of
// erroring forever.
func (s *Service) CreateForMatch(ctx context.Context, matchID, conversationType string, now time.Time) (string, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return "", ErrInvalidInput
	}
	typ, err := ParseType(conversationType)
	if err != nil {
		return "", err
	}

	c, err := s.store.CreateConversation(ctx, matchID, typ, now)
	if errors.Is(err, ErrConversationExists) {
		existing, gerr := s.store.ConversationByMatch(ctx, matchID)
		if gerr != nil {
			return "", gerr
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}

	s.log.Info("chat.conversation.create", "conversation_id", c.ID, "match_id", matchID, "type", string(typ))
	return c.ID, nil
}

// Conversations lists the caller's conversations with partner identity, last
// message and per-conversation unread counts, plus the aggregate badge.
func (s *Service) Conversations(ctx context.Context, userID string) (ConversationList, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ConversationList{}, ErrInvalidInput
	}

	infos, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return ConversationList{}, err
	}

	list := ConversationList{Conversations: make([]ConversationSummary, 0, len(infos))}
	for _, info := range infos {
		summary := ConversationSummary{
			Conversation: info.Conversation,
			PartnerID:    info.Counterpart(userID),
		}

		if u, err := s.users.GetByID(ctx, summary.PartnerID); err == nil {
			summary.PartnerName = u.DisplayName
		} else if !identity.IsNotFound(err) {
			return ConversationList{}, err
		}

		last, err := s.store.LastMessage(ctx, info.ID)
		switch {
		case err == nil:
			summary.LastMessage = &last
		case errors.Is(err, ErrNoMessages):
			// Empty conversation; listing still shows it.
		default:
			return ConversationList{}, err
		}

		n, err := s.unread.Get(ctx, userID, info.ID)
		if err != nil {
			return ConversationList{}, err
		}
		summary.UnreadCount = n
		list.TotalUnreadCount += n

		list.Conversations = append(list.Conversations, summary)
	}
	return list, nil
}

// Conversation loads one conversation after the party check.
func (s *Service) Conversation(ctx context.Context, userID, conversationID string) (ConversationInfo, error) {
	return s.authorize(ctx, userID, conversationID)
}

// Messages returns a page of a conversation's history, newest first, and
// marks the conversation read for the caller. Opening history is the read
// acknowledgment; there is no separate ack call on the HTTP surface.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, limit int, before string) ([]Message, error) {
	info, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	msgs, err := s.store.ListMessages(ctx, ListMessagesInput{
		ConversationID: info.ID,
		Limit:          limit,
		Before:         strings.TrimSpace(before),
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.markRead(ctx, userID, info); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead flips the caller's unread messages in the conversation to read and
// resets the caller's unread counter.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) (int64, error) {
	info, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	return s.markRead(ctx, userID, info)
}

// SendText dispatches a text message by conversation type.
func (s *Service) SendText(ctx context.Context, userID, conversationID, text string) (SendOutcome, error) {
	info, text, err := s.validateSend(ctx, userID, conversationID, text)
	if err != nil {
		return SendOutcome{}, err
	}

	switch info.Type {
	case TypeRealBae:
		return s.sendReal(ctx, userID, info, text, "")
	case TypeBetaBae:
		return s.sendBeta(ctx, userID, info, text)
	default:
		return SendOutcome{}, fmt.Errorf("%w: %q", ErrUnsupportedType, info.Type)
	}
}

// SendImage uploads the attachment and records an image message. Only human
// conversations carry attachments; the upload completes before any row is
// written, so a failed upload leaves no message behind.
func (s *Service) SendImage(ctx context.Context, userID, conversationID string, r io.Reader, contentType, name, caption string) (SendOutcome, error) {
	info, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return SendOutcome{}, err
	}
	if r == nil {
		return SendOutcome{}, ErrInvalidInput
	}
	if info.Type != TypeRealBae {
		return SendOutcome{}, fmt.Errorf("%w: attachments require a %s conversation", ErrUnsupportedType, TypeRealBae)
	}

	url, err := s.media.Upload(ctx, r, contentType, name)
	if err != nil {
		return SendOutcome{}, err
	}

	return s.sendReal(ctx, userID, info, strings.TrimSpace(caption), url)
}

func (s *Service) sendReal(ctx context.Context, userID string, info ConversationInfo, text, attachmentURL string) (SendOutcome, error) {
	now := time.Now().UTC()

	msg, err := s.store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: info.ID,
		SenderID:       userID,
		Text:           text,
		IsRead:         false,
		AttachmentURL:  attachmentURL,
		Now:            now,
	})
	if err != nil {
		return SendOutcome{}, err
	}

	if err := s.store.TouchConversation(ctx, info.ID, now); err != nil {
		return SendOutcome{}, err
	}

	recipient := info.Counterpart(userID)
	if _, err := s.unread.Increment(ctx, recipient, info.ID); err != nil {
		// The counter store is ephemeral; a failed increment degrades the
		// badge, not delivery. The message is already persisted.
		s.log.Warn("chat.unread.increment.fail", "conversation_id", info.ID, "recipient_id", recipient, "err", err)
	}

	messagesSent.WithLabelValues(string(TypeRealBae)).Inc()
	s.log.Info("chat.message.send", "conversation_id", info.ID, "message_id", msg.ID, "sender_id", userID, "type", string(TypeRealBae))

	return SendOutcome{Conversation: info, Message: msg}, nil
}

func (s *Service) sendBeta(ctx context.Context, userID string, info ConversationInfo, text string) (SendOutcome, error) {
	reply, err := s.bot.Reply(ctx, text)
	if err != nil {
		botFailures.Inc()
		s.log.Error("chat.bot.reply.fail", "conversation_id", info.ID, "err", err)
		if errors.Is(err, ErrBotUnavailable) {
			return SendOutcome{}, err
		}
		return SendOutcome{}, fmt.Errorf("%w: %v", ErrBotUnavailable, err)
	}

	now := time.Now().UTC()

	// Both sides of the exchange land read: the sender is looking at the
	// conversation and the reply is delivered inline, so unread counters and
	// room fanout never see automated traffic.
	userMsg, err := s.store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: info.ID,
		SenderID:       userID,
		Text:           text,
		IsRead:         true,
		Now:            now,
	})
	if err != nil {
		return SendOutcome{}, err
	}

	botMsg, err := s.store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: info.ID,
		SenderID:       BotSenderID,
		Text:           reply,
		IsRead:         true,
		Now:            now.Add(time.Millisecond),
	})
	if err != nil {
		return SendOutcome{}, err
	}

	if err := s.store.TouchConversation(ctx, info.ID, botMsg.SentAt); err != nil {
		return SendOutcome{}, err
	}

	messagesSent.WithLabelValues(string(TypeBetaBae)).Inc()
	s.log.Info("chat.message.send", "conversation_id", info.ID, "message_id", userMsg.ID, "sender_id", userID, "type", string(TypeBetaBae))

	return SendOutcome{Conversation: info, Message: userMsg, BotReply: &botMsg}, nil
}

// Analyze runs the automated responder over the tail of a conversation's text
// history. The anchor message must exist in the conversation and must not
// carry an attachment; attachment messages never enter the transcript.
func (s *Service) Analyze(ctx context.Context, userID, conversationID, messageID string) (AnalysisResult, error) {
	info, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return AnalysisResult{}, err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return AnalysisResult{}, ErrInvalidInput
	}

	anchor, err := s.store.GetMessage(ctx, info.ID, messageID)
	if err != nil {
		return AnalysisResult{}, err
	}
	if anchor.AttachmentURL != "" {
		return AnalysisResult{}, ErrAnalysisAttachment
	}

	msgs, err := s.store.ListMessages(ctx, ListMessagesInput{
		ConversationID: info.ID,
		Limit:          analysisContextSize,
		TextOnly:       true,
	})
	if err != nil {
		return AnalysisResult{}, err
	}

	// Chronological order reads as a transcript.
	var b strings.Builder
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "[%s] %s\n", msgs[i].SenderID, msgs[i].Text)
	}

	raw, err := s.bot.Reply(ctx, b.String())
	if err != nil {
		botFailures.Inc()
		s.log.Error("chat.analysis.fail", "conversation_id", info.ID, "err", err)
		if errors.Is(err, ErrBotUnavailable) {
			return AnalysisResult{}, err
		}
		return AnalysisResult{}, fmt.Errorf("%w: %v", ErrBotUnavailable, err)
	}

	s.log.Info("chat.analysis", "conversation_id", info.ID, "message_id", anchor.ID, "context_size", len(msgs))
	return AnalysisResult{
		Analysis: fmt.Sprintf("Analysis of the previous %d messages: %s", len(msgs), raw),
		Raw:      raw,
	}, nil
}

func (s *Service) validateSend(ctx context.Context, userID, conversationID, text string) (ConversationInfo, string, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxMessageBytes {
		return ConversationInfo{}, "", ErrInvalidInput
	}

	info, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return ConversationInfo{}, "", err
	}
	return info, text, nil
}

func (s *Service) markRead(ctx context.Context, userID string, info ConversationInfo) (int64, error) {
	n, err := s.store.MarkRead(ctx, info.ID, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := s.unread.Reset(ctx, userID, info.ID); err != nil {
		s.log.Warn("chat.unread.reset.fail", "conversation_id", info.ID, "user_id", userID, "err", err)
	}
	return n, nil
}

// authorize loads the conversation and enforces the party invariant: only the
// two users of the owning match may see or send anything.
func (s *Service) authorize(ctx context.Context, userID, conversationID string) (ConversationInfo, error) {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return ConversationInfo{}, ErrInvalidInput
	}

	info, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationInfo{}, err
	}
	if !info.isParty(userID) {
		return ConversationInfo{}, ErrUnauthorized
	}
	return info, nil
}
