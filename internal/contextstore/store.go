// Package contextstore keeps the context dictionary produced by an access
// call in Redis so a later erasure can reference it by request ID.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

var (
	// ErrNotFound means no context is stored under the request ID (never
	// saved, or expired).
	ErrNotFound = errors.New("context not found")
	// ErrIdentifierMismatch means the stored context belongs to another subject.
	ErrIdentifierMismatch = errors.New("context belongs to a different identifier")
)

const keyPrefix = "dsr:context:"

type entry struct {
	IdentifierHash string   `json:"identifier_hash"`
	MailingLists   []string `json:"mailing_lists"`
}

// RedisStore stores context dictionaries with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store. ttl <= 0 means entries never expire.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(requestID string) string { return keyPrefix + requestID }

// Save stores dict for requestID. Only a hash of identifier is kept.
func (s *RedisStore) Save(ctx context.Context, requestID, identifier string, dict dsr.ContextDict) error {
	data, err := json.Marshal(entry{
		IdentifierHash: dsr.HashIdentifier(identifier),
		MailingLists:   dict.MailingLists,
	})
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	if err := s.client.Set(ctx, key(requestID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save context %s: %w", requestID, err)
	}
	return nil
}

// Load returns the dictionary saved for requestID, provided it was saved for
// the same identifier.
func (s *RedisStore) Load(ctx context.Context, requestID, identifier string) (*dsr.ContextDict, error) {
	data, err := s.client.Get(ctx, key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", requestID, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", requestID, err)
	}
	if e.IdentifierHash != dsr.HashIdentifier(identifier) {
		return nil, ErrIdentifierMismatch
	}
	return &dsr.ContextDict{MailingLists: e.MailingLists}, nil
}

// Delete drops the context for requestID. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, requestID string) error {
	return s.client.Del(ctx, key(requestID)).Err()
}
