package realtime

import (
	"encoding/json"
	"time"

	"betabae/cmd/internal/chat"
	v1 "betabae/shared/contracts/chat/v1"
)

// PublishMessage fans a persisted human message out: newMessage to the
// conversation room and messageNotification to the counterpart's private
// room. HTTP sends and websocket sends both deliver through here, so a
// message reaches open sockets no matter which surface accepted it.
func (h *Hub) PublishMessage(conv chat.ConversationInfo, senderID, senderName string, m chat.Message) {
	if h == nil {
		return
	}

	now := time.Now().UTC()
	body := messageBody(m, senderName)

	newPayload, _ := json.Marshal(v1.NewMessagePayload{Message: body})
	h.Broadcast(ConversationRoom(m.ConversationID), newEnvelope(v1.TypeNewMessage, newPayload, now))

	notifPayload, _ := json.Marshal(v1.MessageNotificationPayload{
		ConversationID: m.ConversationID,
		Message:        body,
	})
	h.Broadcast(UserRoom(conv.Counterpart(senderID)), newEnvelope(v1.TypeMessageNotification, notifPayload, now))
}
