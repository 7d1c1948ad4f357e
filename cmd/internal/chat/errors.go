package chat

import "errors"

var (
	// ErrInvalidInput is returned for malformed message input.
	ErrInvalidInput = errors.New("invalid chat input")

	// ErrNotFound is returned when a conversation id is unknown.
	ErrNotFound = errors.New("conversation not found")

	// ErrUnauthorized is returned when the caller is not a party to the
	// conversation's match.
	ErrUnauthorized = errors.New("unauthorized conversation access")

	// ErrUnsupportedType is returned when an operation is dispatched for a
	// conversation type it is not defined for.
	ErrUnsupportedType = errors.New("unsupported conversation type")

	// ErrBotUnavailable is returned when the automated responder cannot be
	// reached or is misconfigured. It is an upstream failure, not a
	// validation error.
	ErrBotUnavailable = errors.New("bot responder unavailable")

	// ErrNoMessages is returned by LastMessage when a conversation is empty.
	ErrNoMessages = errors.New("no messages")

	// ErrConversationExists is returned when a match already carries its
	// conversation; a match backs at most one.
	ErrConversationExists = errors.New("conversation already exists for match")

	// ErrMessageNotFound is returned when a message id is unknown within its
	// conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAnalysisAttachment is returned when analysis is requested for an
	// attachment message; there is no text for the model to read.
	ErrAnalysisAttachment = errors.New("attachment messages cannot be analyzed")
)
