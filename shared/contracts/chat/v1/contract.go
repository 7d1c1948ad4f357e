// Package v1 defines the betabae chat wire protocol.
//
// This package is intentionally stable and dependency-light. It is shared
// between server and clients so the envelope format stays authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = 1

// Event type constants (wire-stable).
const (
	// TypeJoinRoom subscribes the connection to a conversation room (client -> server).
	TypeJoinRoom = "joinRoom"

	// TypeLeaveRoom unsubscribes the connection from a conversation room (client -> server).
	TypeLeaveRoom = "leaveRoom"

	// TypeSendMessage sends a text message to a joined conversation (client -> server).
	TypeSendMessage = "sendMessage"

	// TypeResult is the structured success/failure reply to a client event (server -> client).
	TypeResult = "result"

	// TypeNewMessage fans a persisted message out to a conversation room (server -> client).
	TypeNewMessage = "newMessage"

	// TypeMessageNotification informs a user's private room about a message in one
	// of their conversations, whether or not they are joined to it (server -> client).
	TypeMessageNotification = "messageNotification"
)

// AllowedTypes enumerates every type an envelope may carry.
var AllowedTypes = map[string]struct{}{
	TypeJoinRoom:            {},
	TypeLeaveRoom:           {},
	TypeSendMessage:         {},
	TypeResult:              {},
	TypeNewMessage:          {},
	TypeMessageNotification: {},
}

// Envelope is the framing for every event in either direction.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks structural invariants of an envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}
