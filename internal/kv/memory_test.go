package kv

import (
	"context"
	"testing"
)

func TestMemoryStringRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, found, err := m.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("expected missing key to be not-found, got found=%v err=%v", found, err)
	}

	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := m.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("Get after Set: v=%q found=%v err=%v", v, found, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestMemoryHash(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.HSet(ctx, "node:A", map[string]string{"owner": "A", "status": "healthy"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := m.HSet(ctx, "node:A", map[string]string{"status": "unhealthy"}); err != nil {
		t.Fatalf("HSet merge: %v", err)
	}

	got, err := m.HGetAll(ctx, "node:A")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if got["owner"] != "A" || got["status"] != "unhealthy" {
		t.Fatalf("unexpected hash contents: %+v", got)
	}
}

func TestMemorySet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SAdd(ctx, "all_nodes", "A", "B"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if err := m.SAdd(ctx, "all_nodes", "A"); err != nil {
		t.Fatalf("SAdd idempotent: %v", err)
	}

	members, err := m.SMembers(ctx, "all_nodes")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 distinct members, got %v", members)
	}

	if err := m.SRem(ctx, "all_nodes", "A"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	members, _ = m.SMembers(ctx, "all_nodes")
	if len(members) != 1 || members[0] != "B" {
		t.Fatalf("expected only B to remain, got %v", members)
	}
}

func TestMemoryScanGlob(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.Set(ctx, "offering:a", "1")
	_ = m.Set(ctx, "offering:b", "2")
	_ = m.Set(ctx, "node:A", "ignored")

	keys, next, err := m.Scan(ctx, 0, "offering:*", 100)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if next != 0 {
		t.Fatalf("expected single-page scan, got cursor %d", next)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 matching keys, got %v", keys)
	}
}

func TestMemoryExistsAcrossShapes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.HSet(ctx, "h", map[string]string{"a": "1"})
	_ = m.SAdd(ctx, "s", "x")
	_ = m.Set(ctx, "str", "v")

	for _, key := range []string{"h", "s", "str"} {
		ok, err := m.Exists(ctx, key)
		if err != nil || !ok {
			t.Errorf("expected %q to exist, got ok=%v err=%v", key, ok, err)
		}
	}
	if ok, _ := m.Exists(ctx, "nope"); ok {
		t.Error("expected nope to not exist")
	}
}

func TestMemoryPingAlwaysSucceeds(t *testing.T) {
	m := NewMemory()
	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("expected in-memory ping to always succeed, got %v", err)
	}
}

func TestStoreFallsBackWhenPrimaryUnreachable(t *testing.T) {
	failing := &alwaysFailBackend{}
	var fellBack bool
	store := New(failing, func(err error) { fellBack = true })
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("expected fallback Set to succeed, got %v", err)
	}
	if !fellBack {
		t.Fatal("expected onFallback to be invoked")
	}
	v, found, err := store.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("expected fallback round-trip, got v=%q found=%v err=%v", v, found, err)
	}
}

type alwaysFailBackend struct{ Memory }

func (a *alwaysFailBackend) Ping(context.Context) error {
	return context.DeadlineExceeded
}
