// Package kv implements the shared placement store (§3, §4.1): a narrow
// key/value/hash/set interface backed primarily by Redis, falling back
// transparently to an in-process implementation when Redis is
// unreachable. Every other component — internal/ring, internal/registry,
// internal/health, internal/placement — depends only on the Backend
// interface, never on *Redis or *Memory directly, so tests exercise the
// same code path against an in-memory Backend that production runs
// against Redis.
package kv
