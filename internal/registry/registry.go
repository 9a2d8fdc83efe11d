// Package registry implements the Node Registry of §4.2: discovering
// catalogue nodes from the ledger (or, in baseline mode, from a static
// file per §12), normalising their endpoints, and persisting them in the
// KV store. Grounded on the Python original's
// utils/dlt_comm/get_nodes.py discover_and_store_nodes flow.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/kv"
	"github.com/sedimark/catalogue-coordinator/internal/ledger"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
)

// CataloguePort is the fixed port convention catalogue nodes listen on,
// per §3: "node_url (the catalogue base URL, conventionally
// {address}:3030/catalogue)".
const CataloguePort = "3030"

// Registry discovers and caches catalogue nodes.
type Registry struct {
	mu    sync.RWMutex
	cache map[string]cluster.Node // owner -> Node

	ledger *ledger.Client
	store  kv.Backend
	logger *logging.Logger
}

// New constructs a Registry that discovers nodes via ledgerClient and
// persists them through store.
func New(ledgerClient *ledger.Client, store kv.Backend, logger *logging.Logger) *Registry {
	return &Registry{
		cache:  make(map[string]cluster.Node),
		ledger: ledgerClient,
		store:  store,
		logger: logger,
	}
}

// List returns the cached node list, calling DiscoverAndStore first if
// the cache is empty, per §4.2's contract.
func (r *Registry) List(ctx context.Context) []cluster.Node {
	r.mu.RLock()
	n := len(r.cache)
	r.mu.RUnlock()
	if n == 0 {
		return r.DiscoverAndStore(ctx)
	}
	return r.snapshot()
}

// snapshot copies the cache into a slice sorted by Owner, so that callers
// iterating node order (the Health Supervisor's probe fan-out, federated
// query fan-out) see a stable order across calls rather than Go's
// randomised map iteration.
func (r *Registry) snapshot() []cluster.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.Node, 0, len(r.cache))
	for _, n := range r.cache {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b cluster.Node) int {
		return strings.Compare(a.Owner, b.Owner)
	})
	return out
}

// DiscoverAndStore reconciles the node list with the ledger: fetches the
// offerings index, resolves one node per distinct owner from each
// offering's descriptionUri, and upserts node:{owner} plus all_nodes in
// the KV store. A ledger-level failure is logged and yields an empty
// result without touching existing cache or KV state, per §4.2's failure
// semantics; a single offering's metadata-fetch failure is logged and
// skipped, the call still returning whatever else was reconciled.
func (r *Registry) DiscoverAndStore(ctx context.Context) []cluster.Node {
	ids, err := r.ledger.ListOfferingIDs(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("ledger discovery failed; leaving existing node state untouched")
		}
		return nil
	}

	seenOwners := make(map[string]bool, len(ids))
	discovered := make([]cluster.Node, 0, len(ids))

	for _, id := range ids {
		meta, err := r.ledger.GetOfferingMeta(ctx, id)
		if err != nil {
			if r.logger != nil {
				r.logger.WithContext(ctx).WithError(err).Warn("offering metadata fetch failed, skipping")
			}
			continue
		}
		if meta.Owner == "" || seenOwners[meta.Owner] {
			continue // de-duplicate by owner: a second offering from the same owner is ignored for node purposes
		}
		seenOwners[meta.Owner] = true

		address, nodeURL, err := resolveNodeURL(meta.DescriptionURI)
		if err != nil {
			if r.logger != nil {
				r.logger.WithContext(ctx).WithError(err).Warn("could not derive node address from descriptionUri, skipping")
			}
			continue
		}

		node := r.upsert(meta.Owner, address, nodeURL, meta.Name)
		r.persist(ctx, node)
		discovered = append(discovered, node)
	}

	return discovered
}

// DiscoverFromFile reads a static JSON array of node entries instead of
// querying the ledger — the BASELINE_INFRA mode of §12, structurally
// equivalent to DiscoverAndStore beyond the source of truth.
func (r *Registry) DiscoverFromFile(ctx context.Context, path string) ([]cluster.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading baseline nodes file: %w", err)
	}

	var entries []baselineEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing baseline nodes file: %w", err)
	}

	discovered := make([]cluster.Node, 0, len(entries))
	for _, e := range entries {
		if e.Owner == "" {
			continue
		}
		address, nodeURL := e.Address, e.NodeURL
		if nodeURL == "" {
			if address == "" {
				continue
			}
			nodeURL = fmt.Sprintf("%s:%s/catalogue", address, CataloguePort)
		}
		node := r.upsert(e.Owner, address, nodeURL, e.Name)
		r.persist(ctx, node)
		discovered = append(discovered, node)
	}
	return discovered, nil
}

// baselineEntry is one record of the static catalogue_list.json format.
type baselineEntry struct {
	Owner   string `json:"owner"`
	Address string `json:"address,omitempty"`
	NodeURL string `json:"node_url,omitempty"`
	Name    string `json:"name,omitempty"`
}

// resolveNodeURL derives a node's address and catalogue URL from an
// offering's descriptionUri: scheme+host, with any port stripped (the
// Python original's "if more than one colon, keep only scheme and host"
// rule), then the fixed :3030/catalogue suffix.
func resolveNodeURL(descriptionURI string) (address, nodeURL string, err error) {
	u, err := url.Parse(descriptionURI)
	if err != nil {
		return "", "", err
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("descriptionUri %q has no host", descriptionURI)
	}
	address = fmt.Sprintf("%s://%s", u.Scheme, u.Hostname())
	nodeURL = fmt.Sprintf("%s:%s/catalogue", address, CataloguePort)
	return address, nodeURL, nil
}

// upsert creates or updates a node record in the in-memory cache,
// preserving Status/LastFailure/LastHealthCheck across re-discovery
// since those fields belong to the Health Supervisor, not the Registry
// (§3: "mutated only by Health Supervisor (status) and Node Registry
// (endpoint)").
func (r *Registry) upsert(owner, address, nodeURL, name string) cluster.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	node := cluster.Node{Owner: owner, Address: address, NodeURL: nodeURL, Name: name}
	if existing, ok := r.cache[owner]; ok {
		node.Status = existing.Status
		node.LastFailure = existing.LastFailure
		node.LastHealthCheck = existing.LastHealthCheck
	} else {
		node.Status = "healthy" // optimistic until the Health Supervisor's first probe says otherwise
	}
	r.cache[owner] = node
	return node
}

// Get returns the cached node for owner, if known.
func (r *Registry) Get(owner string) (cluster.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.cache[owner]
	return n, ok
}

// UpdateStatus updates the cached node's status and failure reason; the
// Health Supervisor is the only caller expected to use this, per §3's
// mutation ownership.
func (r *Registry) UpdateStatus(ctx context.Context, owner, status, failureReason string) {
	r.mu.Lock()
	node, ok := r.cache[owner]
	if !ok {
		r.mu.Unlock()
		return
	}
	node.Status = status
	node.LastFailure = failureReason
	r.cache[owner] = node
	r.mu.Unlock()

	r.persist(ctx, node)
}

// Remove deletes owner from the cache, node:{owner} and the all_nodes
// index. The Health Supervisor's death transition does not call it: a
// dead node keeps its record, with status "unhealthy".
func (r *Registry) Remove(ctx context.Context, owner string) {
	r.mu.Lock()
	delete(r.cache, owner)
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	_ = r.store.Delete(ctx, "node:"+owner)
	_ = r.store.SRem(ctx, "all_nodes", owner)
}

// persist writes node's record to the KV store: node:{owner} as a hash,
// and owner into the all_nodes set, per §3's key table.
func (r *Registry) persist(ctx context.Context, node cluster.Node) {
	if r.store == nil {
		return
	}
	fields := map[string]string{
		"owner":    node.Owner,
		"address":  node.Address,
		"node_url": node.NodeURL,
		"name":     node.Name,
		"status":   node.Status,
	}
	if err := r.store.HSet(ctx, "node:"+node.Owner, fields); err != nil {
		if r.logger != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("failed to persist node record")
		}
	}
	if err := r.store.SAdd(ctx, "all_nodes", node.Owner); err != nil {
		if r.logger != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("failed to index node into all_nodes")
		}
	}
}
