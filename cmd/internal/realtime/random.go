package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns n random bytes hex-encoded (2n chars).
// Used for websocket session ids and envelope ids.
func NewRandomHex(n int) string {
	if n <= 0 {
		n = 10
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for this process.
		panic(err)
	}
	return hex.EncodeToString(b)
}
