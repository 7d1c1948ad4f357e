// Package match owns the consent handshake between two users. A match is
// created PENDING by a requester and moved exactly once to ACCEPTED or
// REJECTED by the requested party; acceptance creates the conversation that
// the chat subsystem operates on.
package match
