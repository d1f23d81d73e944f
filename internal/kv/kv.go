// Package kv abstracts the shared ephemeral store every server instance
// reaches: TTL-scoped values, sets, hashes and atomically applied write
// batches. Registry and presence state live here rather than in process
// memory so horizontal scaling does not partition it.
package kv

import (
	"context"
	"time"
)

// Writer collects writes that are applied as one atomic batch.
type Writer interface {
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	HSet(key string, fields map[string]string)
	Set(key, value string, ttl time.Duration)
	Del(keys ...string)
	Expire(key string, ttl time.Duration)
}

// Store is the ephemeral key-value contract. A ttl of zero means no expiry.
type Store interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// Grouped reads: one store round trip regardless of batch size.
	SMembersMany(ctx context.Context, keys []string) ([][]string, error)
	SContainsMany(ctx context.Context, key string, members []string) ([]bool, error)
	HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error)
	GetMany(ctx context.Context, keys []string) ([]string, []bool, error)

	// Batch applies every write queued by fn atomically.
	Batch(ctx context.Context, fn func(Writer)) error
}
