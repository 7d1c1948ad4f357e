// Package identity owns the user registry: registration, credential
// verification, and lookups used by the match and chat subsystems.
package identity
