// Package redis persists frontier entries in a Redis hash keyed by URL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// DefaultKey is the hash that holds frontier entries.
const DefaultKey = "wikicrawl:frontier"

// Store implements crawler.FrontierStore on a Redis hash.
type Store struct {
	client redis.UniversalClient
	key    string
}

// Options describes the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.Key), nil
}

// NewWithClient wraps an existing client. An empty key uses DefaultKey.
func NewWithClient(client redis.UniversalClient, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

// LoadEntries reads every entry in the hash.
func (s *Store) LoadEntries(ctx context.Context) ([]crawler.FrontierEntry, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	out := make([]crawler.FrontierEntry, 0, len(raw))
	for url, value := range raw {
		var entry crawler.FrontierEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("decode frontier entry %s: %w", url, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// SaveEntry upserts one entry.
func (s *Store) SaveEntry(ctx context.Context, entry crawler.FrontierEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode frontier entry %s: %w", entry.URL(), err)
	}
	if err := s.client.HSet(ctx, s.key, entry.URL(), payload).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", entry.URL(), err)
	}
	return nil
}

// ClearEntries deletes the hash.
func (s *Store) ClearEntries(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key, err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
