package kv

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// Redis is the remote Backend, a thin adapter over go-redis/v8. It is the
// primary backend named in §4.1 ("a remote in-memory store shared across
// processes"); configuration (host/port/db) comes from internal/config.
type Redis struct {
	client *redis.Client
}

// NewRedis dials host:port with the given db index. The connection is
// lazy (go-redis connects on first use); callers should follow with a
// Ping to fail fast if the backend is unreachable at startup.
func NewRedis(addr string, db int, password string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			DB:       db,
			Password: password,
		}),
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HSet also performs a type self-heal for hash keys, the counterpart of
// the `all_nodes` set self-heal that SAdd performs (§12):
// callers asking to write a hash key that Redis reports as a different
// type (e.g. a stray string left by a previous schema) get that key
// deleted first, mirroring the original's
// `if redis.type(key) != "hash": redis.delete(key)` guard.
func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	if err := r.healType(ctx, key, "hash"); err != nil {
		return err
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return r.client.HSet(ctx, key, values...).Err()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

// SAdd performs the same type self-heal as HSet, guarding `all_nodes` and
// every `node_offerings:{owner}` set against a stray non-set value.
func (r *Redis) SAdd(ctx context.Context, key string, members ...string) error {
	if err := r.healType(ctx, key, "set"); err != nil {
		return err
	}
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return r.client.SAdd(ctx, key, vals...).Err()
}

func (r *Redis) SRem(ctx context.Context, key string, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return r.client.SRem(ctx, key, vals...).Err()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := r.client.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, err
	}
	return keys, next, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// healType deletes key if it exists with a different Redis type than
// want, so a subsequent typed write does not fail with WRONGTYPE. This is
// the internal-invariant self-heal of spec §7/§12.
func (r *Redis) healType(ctx context.Context, key, want string) error {
	got, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return err
	}
	if got != "none" && got != want {
		return r.client.Del(ctx, key).Err()
	}
	return nil
}
