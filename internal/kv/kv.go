// Package kv provides the small key/value abstraction the Coordinator uses
// for placement bookkeeping (§3, §4.1): node records, the `all_nodes`
// index, offering payloads, and the hash ring snapshot. A single narrow
// interface is shared by a Redis-backed remote implementation and an
// in-process fallback with identical semantics, so every caller — Node
// Registry, Hash Ring, Health Supervisor, Placement Driver — is agnostic
// to which one is currently serving it.
package kv

import (
	"context"
	"time"
)

// Backend is the operation set a KV implementation must provide. It maps
// directly onto the Redis primitives the original system used, kept
// narrow so the in-memory fallback can mirror it exactly.
type Backend interface {
	// Get returns the string value stored at key. found is false if the
	// key does not exist; that is not an error.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value at key, replacing anything stored there.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present, regardless of its type.
	Exists(ctx context.Context, key string) (bool, error)

	// HSet stores fields into the hash at key, merging with any existing
	// fields. Used for node:{owner} records.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns all fields of the hash at key. An absent key
	// yields an empty, non-nil map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// SAdd adds members to the set at key, creating it if absent.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key. Removing an absent
	// member is not an error.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key. An absent key
	// yields an empty, non-nil slice.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Scan walks the keyspace in cursor-based pages, filtering by a
	// glob-style match pattern (`*`, `?`, `[...]`), mirroring Redis
	// SCAN semantics. A returned nextCursor of 0 signals the final page.
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, nextCursor uint64, err error)

	// Ping reports backend liveness. The in-memory fallback's Ping
	// always succeeds.
	Ping(ctx context.Context) error
}

// Store wraps a primary Backend (ordinarily Redis) and transparently falls
// back to an in-process Backend when the primary is unreachable, per
// §4.1: "On failure to reach the backend ... transparently fall back to
// an in-process implementation with the same surface." The fallback is
// not shared across OS processes, which is acceptable because every
// caller treats its own writes as individually idempotent and
// reconstructible from live state (§4.1, §5).
type Store struct {
	primary  Backend
	fallback Backend

	// onFallback, if set, is called on every call that falls back
	// because the primary's Ping failed, for logging/metrics. It receives
	// the Ping error.
	onFallback func(err error)
}

// New constructs a Store backed by primary, falling back to an in-memory
// Backend (see NewMemory) for any call during which primary fails its
// Ping; an error from the operation itself is returned as is. Pass nil
// for primary to run purely on the in-memory fallback (used in tests).
func New(primary Backend, onFallback func(err error)) *Store {
	return &Store{
		primary:    primary,
		fallback:   NewMemory(),
		onFallback: onFallback,
	}
}

// backend returns the primary if it is reachable, else the fallback,
// invoking onFallback exactly once per failing call.
func (s *Store) backend(ctx context.Context) Backend {
	if s.primary == nil {
		return s.fallback
	}
	pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := s.primary.Ping(pingCtx); err != nil {
		if s.onFallback != nil {
			s.onFallback(err)
		}
		return s.fallback
	}
	return s.primary
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	return s.backend(ctx).Get(ctx, key)
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.backend(ctx).Set(ctx, key, value)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend(ctx).Delete(ctx, key)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend(ctx).Exists(ctx, key)
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.backend(ctx).HSet(ctx, key, fields)
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.backend(ctx).HGetAll(ctx, key)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.backend(ctx).SAdd(ctx, key, members...)
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return s.backend(ctx).SRem(ctx, key, members...)
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.backend(ctx).SMembers(ctx, key)
}

func (s *Store) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return s.backend(ctx).Scan(ctx, cursor, match, count)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend(ctx).Ping(ctx)
}

// ScanAll pages through Scan until nextCursor returns to 0, returning the
// full matching key set. Convenience for callers that don't need
// cursor-level control.
func ScanAll(ctx context.Context, b Backend, match string) ([]string, error) {
	var all []string
	var cursor uint64
	for {
		keys, next, err := b.Scan(ctx, cursor, match, 100)
		if err != nil {
			return all, err
		}
		all = append(all, keys...)
		if next == 0 {
			return all, nil
		}
		cursor = next
	}
}
