// Package session is the session oracle: it maps opaque session tokens to
// user identities. The chat core only ever reads it; creation and expiry
// policy belong to the auth surface that calls Put/Delete.
package session
