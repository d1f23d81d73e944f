package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore backs Store with a shared Redis instance. Batches map onto
// MULTI/EXEC pipelines.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(host, port, password string) *RedisStore {
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &RedisStore{client: client}
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	return r.client.SAdd(ctx, key, toInterfaces(members)...).Err()
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	return r.client.SRem(ctx, key, toInterfaces(members)...).Err()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, key).Result()
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	values := make([]interface{}, 0, len(fields)*2)
	for field, value := range fields {
		values = append(values, field, value)
	}
	return r.client.HSet(ctx, key, values...).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *RedisStore) SMembersMany(ctx context.Context, keys []string) ([][]string, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.SMembers(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([][]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (r *RedisStore) SContainsMany(ctx context.Context, key string, members []string) ([]bool, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.SIsMember(ctx, key, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]bool, len(members))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (r *RedisStore) HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (r *RedisStore) GetMany(ctx context.Context, keys []string) ([]string, []bool, error) {
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	// Exec returns redis.Nil when any key is missing; per-command errors
	// below distinguish missing keys from real failures.
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}
	values := make([]string, len(keys))
	found := make([]bool, len(keys))
	for i, cmd := range cmds {
		if cmd.Err() == redis.Nil {
			continue
		}
		if cmd.Err() != nil {
			return nil, nil, cmd.Err()
		}
		values[i] = cmd.Val()
		found[i] = true
	}
	return values, found, nil
}

func (r *RedisStore) Batch(ctx context.Context, fn func(Writer)) error {
	pipe := r.client.TxPipeline()
	fn(&redisWriter{ctx: ctx, pipe: pipe})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

type redisWriter struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (w *redisWriter) SAdd(key string, members ...string) {
	w.pipe.SAdd(w.ctx, key, toInterfaces(members)...)
}

func (w *redisWriter) SRem(key string, members ...string) {
	w.pipe.SRem(w.ctx, key, toInterfaces(members)...)
}

func (w *redisWriter) HSet(key string, fields map[string]string) {
	values := make([]interface{}, 0, len(fields)*2)
	for field, value := range fields {
		values = append(values, field, value)
	}
	w.pipe.HSet(w.ctx, key, values...)
}

func (w *redisWriter) Set(key, value string, ttl time.Duration) {
	w.pipe.Set(w.ctx, key, value, ttl)
}

func (w *redisWriter) Del(keys ...string) {
	w.pipe.Del(w.ctx, keys...)
}

func (w *redisWriter) Expire(key string, ttl time.Duration) {
	w.pipe.Expire(w.ctx, key, ttl)
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
