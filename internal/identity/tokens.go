package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TokenStore keeps opaque bearer tokens in redis with a TTL.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	return "identity:token:" + token
}

// Issue creates a new token bound to the account.
func (t *TokenStore) Issue(ctx context.Context, accountID int64) (string, time.Time, error) {
	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(t.ttl)
	if err := t.client.Set(ctx, tokenKey(token), accountID, t.ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("identity: store token: %w", err)
	}
	return token, expiresAt, nil
}

// Lookup resolves a token to an account id. The second return value is false
// for unknown or expired tokens.
func (t *TokenStore) Lookup(ctx context.Context, token string) (int64, bool, error) {
	raw, err := t.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("identity: lookup token: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// Revoke deletes a token.
func (t *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := t.client.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("identity: revoke token: %w", err)
	}
	return nil
}

// TTL exposes the configured token lifetime.
func (t *TokenStore) TTL() time.Duration {
	return t.ttl
}
