package ring

import (
	"testing"
)

func TestAddIdempotent(t *testing.T) {
	r := New(10, nil)
	r.Add("A")
	firstOwners := len(r.Owners())
	r.Add("A")
	if len(r.Owners()) != firstOwners {
		t.Fatalf("expected idempotent Add, owners changed from %d to %d", firstOwners, len(r.Owners()))
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := New(10, nil)
	r.Add("A")
	r.Remove("A")
	r.Remove("A")
	if r.Contains("A") {
		t.Fatal("expected A removed")
	}
}

func TestGetEmptyRing(t *testing.T) {
	r := New(10, nil)
	if _, ok := r.Get("x"); ok {
		t.Fatal("expected Get on empty ring to return not-ok")
	}
	if got := r.GetN("x", 3); got != nil {
		t.Fatalf("expected GetN on empty ring to return nil, got %v", got)
	}
}

func TestGetNDistinctness(t *testing.T) {
	r := New(50, nil)
	for _, o := range []string{"A", "B", "C"} {
		r.Add(o)
	}
	for _, key := range []string{"offering-1", "offering-2", "offering-3", "offering-4"} {
		owners := r.GetN(key, 2)
		if len(owners) != 2 {
			t.Fatalf("expected 2 distinct owners for %s, got %v", key, owners)
		}
		if owners[0] == owners[1] {
			t.Fatalf("expected distinct owners, got duplicate %v", owners)
		}
	}
}

func TestGetNFewerThanRequested(t *testing.T) {
	r := New(50, nil)
	r.Add("A")
	owners := r.GetN("offering-1", 5)
	if len(owners) != 1 {
		t.Fatalf("expected exactly 1 owner when only 1 exists, got %v", owners)
	}
}

func TestPlacementDeterminism(t *testing.T) {
	r := New(150, nil)
	for _, o := range []string{"A", "B", "C", "D"} {
		r.Add(o)
	}
	first := r.GetN("offering-x", 2)
	for i := 0; i < 10; i++ {
		again := r.GetN("offering-x", 2)
		if len(again) != len(first) {
			t.Fatalf("non-deterministic length: %v vs %v", first, again)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("non-deterministic placement: %v vs %v", first, again)
			}
		}
	}
}

func TestNoKeyFlipsBetweenPreexistingNodes(t *testing.T) {
	r := New(150, nil)
	for _, o := range []string{"A", "B", "C"} {
		r.Add(o)
	}

	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, keyFor(i))
	}
	before := make(map[string]string, len(keys))
	for _, k := range keys {
		owner, _ := r.Get(k)
		before[k] = owner
	}

	r.Add("D")

	flippedBetweenPreexisting := 0
	for _, k := range keys {
		owner, _ := r.Get(k)
		if owner != before[k] && owner != "D" {
			flippedBetweenPreexisting++
		}
	}
	if flippedBetweenPreexisting != 0 {
		t.Fatalf("expected no key to flip between two pre-existing nodes, got %d flips", flippedBetweenPreexisting)
	}
}

func TestRebuildFromLiveMembers(t *testing.T) {
	r := New(50, nil)
	r.Add("A")
	r.Add("B")
	r.Rebuild([]string{"B", "C"})

	if r.Contains("A") {
		t.Fatal("expected A to be gone after Rebuild")
	}
	if !r.Contains("B") || !r.Contains("C") {
		t.Fatal("expected B and C present after Rebuild")
	}
}

func keyFor(i int) string {
	return "offering-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
