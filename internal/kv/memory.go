package kv

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
)

// Memory is the in-process Backend fallback, grounded on the Python
// original's MemoryKV (utils/redis/fallback.py) and adapted from the
// teacher's MemoryStore (internal/storage/store.go): a plain map guarded
// by a single RWMutex, copy-on-read/write to keep callers from mutating
// shared state, with glob-style Scan matching via filepath.Match (the same
// shell-glob semantics `fnmatch` and Redis SCAN's MATCH both use).
//
// Memory keeps strings, hashes, and sets in separate maps rather than a
// single `map[string]any`, since a real Redis key space rejects a type
// change under the same key (see the type self-heal documented on
// Redis.HSet and Redis.SAdd); keeping the shapes apart means Memory never needs
// a runtime type assertion to serve a typed read.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
}

// NewMemory returns an empty, ready-to-use in-process Backend.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.strings[key]; ok {
		return true, nil
	}
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.sets[key]; ok {
		return true, nil
	}
	return false, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(s, member)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for member := range s {
		out = append(out, member)
	}
	sort.Strings(out) // stable ordering for tests; no ordering is guaranteed by the interface
	return out, nil
}

// Scan ignores cursor/count pagination (the whole key space is walked in
// one pass and a single page returned) since the in-process map is never
// large enough to need true cursor-based iteration; nextCursor is always
// 0, signalling the caller that this was the final page.
func (m *Memory) Scan(_ context.Context, _ uint64, match string, _ int64) ([]string, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	add := func(key string) {
		if _, dup := seen[key]; dup {
			return
		}
		ok, err := filepath.Match(match, key)
		if err == nil && ok {
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	for k := range m.strings {
		add(k)
	}
	for k := range m.hashes {
		add(k)
	}
	for k := range m.sets {
		add(k)
	}
	sort.Strings(out)
	return out, 0, nil
}

// Ping always succeeds for the in-process fallback, per §4.1.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}
