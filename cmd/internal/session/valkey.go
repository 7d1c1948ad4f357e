package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyOracle stores sessions as JSON under "session:{token}" with a TTL,
// so expiry is enforced by the store itself.
type ValkeyOracle struct {
	client valkey.Client
}

// NewValkeyOracle constructs an oracle over an existing valkey client.
// The client lifecycle is owned by the caller.
func NewValkeyOracle(client valkey.Client) (*ValkeyOracle, error) {
	if client == nil {
		return nil, errors.New("session: nil valkey client")
	}
	return &ValkeyOracle{client: client}, nil
}

// Resolve looks a token up and decodes the stored identity.
func (o *ValkeyOracle) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrNotFound
	}

	raw, err := o.client.Do(ctx, o.client.B().Get().Key(sessionKey(token)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, err
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		// A corrupt session value is indistinguishable from a missing one for callers.
		return Identity{}, ErrNotFound
	}
	if id.UserID == "" {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

// Put writes a session with the given TTL.
func (o *ValkeyOracle) Put(ctx context.Context, token string, id Identity, ttl time.Duration) error {
	token = strings.TrimSpace(token)
	if token == "" || id.UserID == "" {
		return ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}

	return o.client.Do(ctx,
		o.client.B().Set().Key(sessionKey(token)).Value(string(raw)).Ex(ttl).Build(),
	).Error()
}

// Delete removes a session; deleting an absent token is not an error.
func (o *ValkeyOracle) Delete(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return o.client.Do(ctx, o.client.B().Del().Key(sessionKey(token)).Build()).Error()
}
