// Package chat is the conversation dispatcher. It owns conversations and
// messages, enforces conversation access, branches delivery on the
// conversation type (human counterpart vs automated responder), and keeps
// per-recipient unread counters consistent with reads.
package chat
