package api

import (
	"time"

	"betabae/cmd/identity"
	"betabae/cmd/internal/chat"
	"betabae/cmd/internal/match"
)

// ---- requests ----

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type createMatchRequest struct {
	RequestedID string `json:"requested_id"`
}

type sendTextRequest struct {
	MessageText string `json:"message_text"`
}

type analyzeChatRequest struct {
	MessageID string `json:"message_id"`
}

// ---- responses ----

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type authResponse struct {
	User userResponse `json:"user"`
}

type matchResponse struct {
	ID               string    `json:"id"`
	RequesterID      string    `json:"requester_id"`
	RequestedID      string    `json:"requested_id"`
	Status           string    `json:"status"`
	RequesterConsent bool      `json:"requester_consent"`
	RequestedConsent bool      `json:"requested_consent"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type matchListResponse struct {
	Matches []matchResponse `json:"matches"`
}

type messageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	MessageText    string     `json:"message_text"`
	SentAt         time.Time  `json:"sent_at"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
}

type messageListResponse struct {
	Messages []messageResponse `json:"messages"`
}

type sendMessageResponse struct {
	Message  messageResponse  `json:"message"`
	BotReply *messageResponse `json:"bot_reply,omitempty"`
}

type conversationResponse struct {
	ID          string           `json:"id"`
	MatchID     string           `json:"match_id"`
	Type        string           `json:"type"`
	PartnerID   string           `json:"partner_id"`
	PartnerName string           `json:"partner_name,omitempty"`
	UnreadCount int64            `json:"unread_count"`
	LastMessage *messageResponse `json:"last_message,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type conversationListResponse struct {
	Conversations    []conversationResponse `json:"conversations"`
	TotalUnreadCount int64                  `json:"total_unread_count"`
}

type analysisResponse struct {
	Analysis       string `json:"analysis"`
	LLMRawResponse string `json:"llm_raw_response"`
}

// ---- mappers ----

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func toMatchResponse(m match.Match) matchResponse {
	return matchResponse{
		ID:               m.ID,
		RequesterID:      m.RequesterID,
		RequestedID:      m.RequestedID,
		Status:           string(m.Status),
		RequesterConsent: m.RequesterConsent,
		RequestedConsent: m.RequestedConsent,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toMatchListResponse(ms []match.Match) matchListResponse {
	out := matchListResponse{Matches: make([]matchResponse, 0, len(ms))}
	for _, m := range ms {
		out.Matches = append(out.Matches, toMatchResponse(m))
	}
	return out
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		MessageText:    m.Text,
		SentAt:         m.SentAt,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		AttachmentURL:  m.AttachmentURL,
	}
}

func toMessageListResponse(ms []chat.Message) messageListResponse {
	out := messageListResponse{Messages: make([]messageResponse, 0, len(ms))}
	for _, m := range ms {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	return out
}

func toSendMessageResponse(out chat.SendOutcome) sendMessageResponse {
	resp := sendMessageResponse{Message: toMessageResponse(out.Message)}
	if out.BotReply != nil {
		reply := toMessageResponse(*out.BotReply)
		resp.BotReply = &reply
	}
	return resp
}

func toConversationResponse(s chat.ConversationSummary) conversationResponse {
	resp := conversationResponse{
		ID:          s.Conversation.ID,
		MatchID:     s.Conversation.MatchID,
		Type:        string(s.Conversation.Type),
		PartnerID:   s.PartnerID,
		PartnerName: s.PartnerName,
		UnreadCount: s.UnreadCount,
		CreatedAt:   s.Conversation.CreatedAt,
		UpdatedAt:   s.Conversation.UpdatedAt,
	}
	if s.LastMessage != nil {
		last := toMessageResponse(*s.LastMessage)
		resp.LastMessage = &last
	}
	return resp
}

func toConversationListResponse(l chat.ConversationList) conversationListResponse {
	out := conversationListResponse{
		Conversations:    make([]conversationResponse, 0, len(l.Conversations)),
		TotalUnreadCount: l.TotalUnreadCount,
	}
	for _, s := range l.Conversations {
		out.Conversations = append(out.Conversations, toConversationResponse(s))
	}
	return out
}
