// Package ring implements the consistent-hash ring of §4.3: virtual nodes
// keyed on offering identity, MD5-hashed into a 128-bit keyspace, with
// binary search over a sorted key index for O(log n) lookups. It is
// grounded directly on the Python original's
// utils/hash_ring/consistent_hash.py, carried over idiom-for-idiom: the
// same hash function, the same "first slot >= H(key), wrap to smallest"
// lookup rule — expressed here as a single-writer-locked in-memory
// structure instead of Python's Redis-resident ring snapshot. The
// snapshot is written to the KV store but never read back: nothing
// rebuilds the ring from it or from all_nodes on boot.
package ring

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 used only for key-space distribution, not security
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/sedimark/catalogue-coordinator/internal/kv"
)

// DefaultVirtualNodes is the default slot count per real node (§6,
// HASH_RING_VIRTUAL_NODES).
const DefaultVirtualNodes = 150

// snapshot is the `hash_ring` KV record shape from §3: a rebuild hint,
// not the source of truth (the live in-memory ring is authoritative while
// the process runs).
type snapshot struct {
	Ring       map[string]string `json:"ring"`
	SortedKeys []string          `json:"sorted_keys"`
}

// Ring is a consistent-hash ring with virtual nodes. The zero value is not
// usable; construct with New. All exported methods are safe for
// concurrent use; mutations are serialised by a single writer lock, per
// §5 ("The Hash Ring's in-memory structure is protected by a single
// writer lock within its process").
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	slots        map[string]string // hex-encoded 128-bit key -> owner
	sortedKeys   []string          // sorted hex keys, kept parallel to slots
	owners       map[string]bool   // real owners currently present

	store kv.Backend // optional; nil disables snapshot persistence
}

// New constructs an empty Ring with the given virtual-node count per
// real node. Pass a kv.Backend to have a snapshot written after every
// Add, Remove and Rebuild (§4.3); pass nil to run purely in-memory (used by tests).
func New(virtualNodes int, store kv.Backend) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: virtualNodes,
		slots:        make(map[string]string),
		sortedKeys:   nil,
		owners:       make(map[string]bool),
		store:        store,
	}
}

// hashHex returns the hex-encoded first 16 bytes of MD5(key), matching
// the original's `int(hashlib.md5(key.encode()).hexdigest(), 16)`. Hex
// strings compare lexicographically in the same order as the underlying
// big-endian integers, so sort.Strings on equal-length hex keys gives the
// same ordering as a numeric compare, which is what binary search here
// relies on.
func hashHex(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return fmt.Sprintf("%032x", new(big.Int).SetBytes(sum[:]))
}

// Add inserts V virtual slots for owner, keyed "{owner}-{i}" for
// i in [0, V). Idempotent: re-adding an owner already present is a no-op,
// satisfying the ring-idempotence property of §8.
func (r *Ring) Add(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(owner)
	r.persistLocked()
}

func (r *Ring) addLocked(owner string) {
	if r.owners[owner] {
		return
	}
	r.owners[owner] = true
	for i := 0; i < r.virtualNodes; i++ {
		key := hashHex(fmt.Sprintf("%s-%d", owner, i))
		if _, collide := r.slots[key]; collide {
			continue // first-insertion order wins on collision, per §4.3
		}
		r.slots[key] = owner
	}
	r.resortLocked()
}

// Remove deletes all virtual slots for owner. Idempotent: removing an
// owner not present is a no-op.
func (r *Ring) Remove(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(owner)
	r.persistLocked()
}

func (r *Ring) removeLocked(owner string) {
	if !r.owners[owner] {
		return
	}
	delete(r.owners, owner)
	for i := 0; i < r.virtualNodes; i++ {
		key := hashHex(fmt.Sprintf("%s-%d", owner, i))
		if r.slots[key] == owner {
			delete(r.slots, key)
		}
	}
	r.resortLocked()
}

func (r *Ring) resortLocked() {
	keys := make([]string, 0, len(r.slots))
	for k := range r.slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.sortedKeys = keys
}

// Get returns the owner of the first slot whose hash is >= H(key),
// wrapping to the smallest slot when none matches. Returns ("", false) on
// an empty ring, per §4.3's edge case.
func (r *Ring) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sortedKeys) == 0 {
		return "", false
	}
	idx := r.searchLocked(hashHex(key))
	return r.slots[r.sortedKeys[idx]], true
}

// GetN walks clockwise from H(key), accumulating distinct owners until n
// is reached or the ring is exhausted, wrapping at most once. Never
// duplicates an owner in the result and never returns more than
// min(n, distinct owners), per §4.3 and the ring-distinctness property
// of §8.
func (r *Ring) GetN(key string, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || len(r.sortedKeys) == 0 {
		return nil
	}

	start := r.searchLocked(hashHex(key))
	seen := make(map[string]bool, n)
	result := make([]string, 0, n)
	for i := 0; i < len(r.sortedKeys) && len(result) < n; i++ {
		owner := r.slots[r.sortedKeys[(start+i)%len(r.sortedKeys)]]
		if seen[owner] {
			continue
		}
		seen[owner] = true
		result = append(result, owner)
	}
	return result
}

// searchLocked returns the index into sortedKeys of the first key >=
// target, wrapping to 0 when target exceeds every key. Caller must hold
// at least a read lock.
func (r *Ring) searchLocked(target string) int {
	idx := sort.SearchStrings(r.sortedKeys, target)
	if idx == len(r.sortedKeys) {
		return 0
	}
	return idx
}

// Owners returns the current set of real owners present in the ring, in
// no particular order.
func (r *Ring) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.owners))
	for o := range r.owners {
		out = append(out, o)
	}
	return out
}

// Contains reports whether owner currently holds any slots.
func (r *Ring) Contains(owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[owner]
}

// Rebuild discards the current ring and re-adds exactly the given owners.
// The Coordinator does not call it on process start; there the ring is
// seeded with Add from the discovered nodes.
func (r *Ring) Rebuild(owners []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = make(map[string]string)
	r.sortedKeys = nil
	r.owners = make(map[string]bool)
	for _, o := range owners {
		r.addLocked(o)
	}
	r.persistLocked()
}

// persistLocked writes the rebuild-hint snapshot to the KV store,
// best-effort per §4.3 ("the follow-up KV snapshot write is best-effort
// and logged on failure"). Caller must hold the write lock. Errors are
// swallowed here and nothing is logged; Persist below writes the same
// snapshot and returns the error instead.
func (r *Ring) persistLocked() {
	if r.store == nil {
		return
	}
	snap := snapshot{Ring: r.slots, SortedKeys: r.sortedKeys}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = r.store.Set(context.Background(), "hash_ring", string(data))
}

// Persist writes the current ring snapshot to the KV store and returns
// any error, for callers that want to log snapshot failures explicitly
// rather than swallow them as persistLocked does on every mutation.
func (r *Ring) Persist(ctx context.Context, store kv.Backend) error {
	r.mu.RLock()
	snap := snapshot{Ring: r.slots, SortedKeys: r.sortedKeys}
	r.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return store.Set(ctx, "hash_ring", string(data))
}
