package v1

import "time"

// JoinRoomPayload asks the gateway to subscribe the connection to a conversation.
type JoinRoomPayload struct {
	ConversationID string `json:"conversation_id"`
}

// LeaveRoomPayload asks the gateway to unsubscribe from a conversation.
type LeaveRoomPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessagePayload carries a text message for a joined conversation.
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	MessageText    string `json:"message_text"`
}

// ResultPayload is the structured reply for joinRoom/leaveRoom/sendMessage.
// Gateway failures are reported here; they never tear down the connection.
type ResultPayload struct {
	Op      string       `json:"op"`
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    *MessageBody `json:"data,omitempty"`
}

// MessageBody is the wire form of a persisted message.
type MessageBody struct {
	MessageID      string     `json:"message_id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	MessageText    string     `json:"message_text"`
	SentAt         time.Time  `json:"sent_at"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
}

// NewMessagePayload fans a persisted message out to a conversation room.
type NewMessagePayload struct {
	Message MessageBody `json:"message"`
}

// MessageNotificationPayload alerts a user's private room about new activity.
type MessageNotificationPayload struct {
	ConversationID string      `json:"conversation_id"`
	Message        MessageBody `json:"message"`
}
