package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	// Small params keep the test fast; sanitizeParams enforces floors.
	p := Argon2idParams{MemoryKiB: 8 * 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

	hash, err := HashPassword("correct horse battery", p)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash prefix: %q", hash)
	}

	ok, err := VerifyPassword("correct horse battery", hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected verification to succeed")
	}

	ok, err = VerifyPassword("wrong password!!", hash)
	if err != nil {
		t.Fatalf("verify wrong: %v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail")
	}
}

func TestHashPassword_Bounds(t *testing.T) {
	t.Parallel()

	if _, err := HashPassword("short", DefaultArgon2idParams()); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := HashPassword(strings.Repeat("x", 300), DefaultArgon2idParams()); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestVerifyPassword_RejectsMalformedHash(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdA$a2V5a2V5a2V5a2V5a2V5",
	}
	for _, c := range cases {
		if _, err := VerifyPassword("whatever-password", c); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("hash %q: expected ErrInvalidHash, got %v", c, err)
		}
	}
}
