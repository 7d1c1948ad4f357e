package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams defines argon2id hashing parameters.
// Values balance security and login latency; env overrides live in app config.
type Argon2idParams struct {
	MemoryKiB uint32
	Time      uint32
	Threads   uint8
	SaltLen   uint32
	KeyLen    uint32
}

// DefaultArgon2idParams returns the baseline parameters used for new credentials.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		MemoryKiB: 64 * 1024,
		Time:      3,
		Threads:   2,
		SaltLen:   16,
		KeyLen:    32,
	}
}

const (
	minPasswordLen = 8
	maxPasswordLen = 256

	// Anti-DoS bound when verifying foreign hashes.
	verifyMaxMemoryKiB = 1 << 21 // 2 GiB
	verifyMaxTime      = 16
)

var (
	// ErrPasswordTooShort is returned when a password is below the minimum length.
	ErrPasswordTooShort = errors.New("password too short")

	// ErrPasswordTooLong is returned when a password exceeds the maximum length.
	ErrPasswordTooLong = errors.New("password too long")

	// ErrInvalidHash is returned when a stored hash cannot be parsed as PHC argon2id.
	ErrInvalidHash = errors.New("invalid argon2id hash format")
)

// HashPassword returns a PHC-style argon2id hash string.
func HashPassword(passwordPlain string, p Argon2idParams) (string, error) {
	if len(passwordPlain) < minPasswordLen {
		return "", ErrPasswordTooShort
	}
	if len(passwordPlain) > maxPasswordLen {
		return "", ErrPasswordTooLong
	}
	p = sanitizeParams(p)

	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(passwordPlain), salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks a password against a PHC argon2id hash in constant time.
func VerifyPassword(passwordPlain, encodedPHC string) (bool, error) {
	if len(passwordPlain) > maxPasswordLen {
		return false, ErrPasswordTooLong
	}

	p, salt, want, err := decodePHC(encodedPHC)
	if err != nil {
		return false, err
	}

	// Refuse hashes with parameters wildly above sane maxima.
	if p.MemoryKiB > verifyMaxMemoryKiB || p.Time > verifyMaxTime {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(passwordPlain), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func sanitizeParams(p Argon2idParams) Argon2idParams {
	if p.MemoryKiB < 8*1024 {
		p.MemoryKiB = 8 * 1024
	}
	if p.Time == 0 {
		p.Time = 1
	}
	if p.Threads == 0 {
		p.Threads = 1
	}
	if p.SaltLen < 8 {
		p.SaltLen = 16
	}
	if p.KeyLen < 16 {
		p.KeyLen = 32
	}
	return p
}

func decodePHC(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var p Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if p.MemoryKiB == 0 || p.Time == 0 || p.Threads == 0 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) < 16 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return p, salt, key, nil
}
