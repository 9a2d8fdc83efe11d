// Package placement implements the Placement Driver of §4.6: it glues
// the ledger, the hash ring, the node registry, and catalogue nodes
// together — fetching a new offering's self-description, routing it to
// N ring targets, and recording where it landed in the KV store. It also
// implements health.Redistributor, serving the Health Supervisor's
// death-triggered redistribution of §4.4.
package placement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/catalogue"
	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/kv"
	"github.com/sedimark/catalogue-coordinator/internal/ledger"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/metrics"
	"github.com/sedimark/catalogue-coordinator/internal/retry"
	"github.com/sedimark/catalogue-coordinator/internal/ring"
)

// Defaults per §4.6 and §5's timeout table.
const (
	DefaultRedundancyReplicas = 2
	DefaultDescriptionTimeout = 30 * time.Second
	DefaultPostTimeout        = 30 * time.Second
)

// NodeLookup resolves an owner to its current node record. Implemented by
// internal/registry.Registry; kept as an interface so this package
// doesn't depend on the concrete registry type beyond what it needs.
type NodeLookup interface {
	Get(owner string) (cluster.Node, bool)
}

// Status is the shape returned by Driver.Status, per §4.6's contract.
type Status struct {
	AssignedNode string
	Payload      string
	State        string // "placed" or "unknown"
}

// Driver is the Placement Driver.
type Driver struct {
	ring     *ring.Ring
	nodes    NodeLookup
	store    kv.Backend
	replicas int

	descriptionTimeout time.Duration
	postTimeout        time.Duration

	mu        sync.Mutex
	processed map[string]bool // processed-set dedup at the driver entry, §4.6

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New constructs a Driver.
func New(r *ring.Ring, nodes NodeLookup, store kv.Backend, logger *logging.Logger, m *metrics.Metrics) *Driver {
	return &Driver{
		ring:               r,
		nodes:              nodes,
		store:              store,
		replicas:           DefaultRedundancyReplicas,
		descriptionTimeout: DefaultDescriptionTimeout,
		postTimeout:        DefaultPostTimeout,
		processed:          make(map[string]bool),
		logger:             logger,
		metrics:            m,
	}
}

// SetReplicas overrides the default redundancy factor (REDUNDANCY_REPLICAS).
func (d *Driver) SetReplicas(n int) {
	if n > 0 {
		d.replicas = n
	}
}

// SetTimeouts overrides the description-fetch and placement-POST timeouts.
func (d *Driver) SetTimeouts(description, post time.Duration) {
	d.descriptionTimeout = description
	d.postTimeout = post
}

// FilterNew returns the subset of ids not yet marked processed in this
// process's lifetime, marking them processed as a side effect so a
// concurrent poll cycle won't resubmit the same id before this one
// completes. The processed set is authoritative only for this process's
// lifetime, per §4.6.
func (d *Driver) FilterNew(ids []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if d.processed[id] {
			continue
		}
		d.processed[id] = true
		fresh = append(fresh, id)
	}
	return fresh
}

// Process places one offering: fetches its self-description, computes N
// ring targets, POSTs to each, and records the outcome. Returns true iff
// at least one replica landed, per §4.6 step 5.
func (d *Driver) Process(ctx context.Context, id string, meta *cluster.OfferingMeta) (bool, error) {
	start := time.Now()

	payload, err := ledger.FetchDescription(ctx, meta.DescriptionURI, d.descriptionTimeout, d.logger)
	if err != nil {
		d.bumpOutcome("fetch_failed")
		return false, fmt.Errorf("fetching description for %s: %w", id, err)
	}

	targets := d.ring.GetN(id, d.replicas)
	if len(targets) == 0 {
		d.bumpOutcome("no_targets")
		return false, errors.New("no ring targets available")
	}

	successCount := 0
	for _, owner := range targets {
		node, ok := d.nodes.Get(owner)
		if !ok {
			d.logf("placement target %s has no known node record, skipping", owner)
			continue
		}
		client := catalogue.New(node.NodeURL)
		client.SetLogger(d.logger)
		if err := client.StorePayload(ctx, payload, d.postTimeout); err != nil {
			d.logf("placement POST to %s failed: %v", node.NodeURL, err)
			continue
		}
		successCount++
		if err := d.updateAssignment(ctx, id, owner, payload); err != nil {
			d.logf("placement: recording assignment of %s on %s failed after retries: %v", id, owner, err)
		}
	}

	if successCount == 0 {
		d.bumpOutcome("all_targets_failed")
		return false, errors.New("all placement targets failed")
	}

	d.bumpOutcome("success")
	if d.metrics != nil {
		d.metrics.PlacementDuration.Observe(time.Since(start).Seconds())
	}
	return true, nil
}

// updateAssignment records a successful placement into the KV store:
// the offering payload, its membership in the target node's offering
// set, and the offering-to-node pointer. Retried on transient KV
// failure with the default backoff policy, mirroring the original's
// _update_offering_assignment (3 attempts, doubling delay).
func (d *Driver) updateAssignment(ctx context.Context, id, owner string, payload []byte) error {
	return retry.Do(ctx, retry.Default(), func() error {
		if err := d.store.Set(ctx, "offering:"+id, string(payload)); err != nil {
			return err
		}
		if err := d.store.SAdd(ctx, "node_offerings:"+owner, id); err != nil {
			return err
		}
		return d.store.Set(ctx, "offering_node:"+id, owner)
	})
}

// ProcessMany runs Process for each item in order, returning its
// per-item success.
func (d *Driver) ProcessMany(ctx context.Context, items []cluster.OfferingMeta) []bool {
	results := make([]bool, len(items))
	for i, meta := range items {
		ok, err := d.Process(ctx, meta.ID, &meta)
		if err != nil {
			d.logf("process_many: offering %s failed: %v", meta.ID, err)
		}
		results[i] = ok
	}
	return results
}

// Status reports the last-known placement state of an offering.
func (d *Driver) Status(ctx context.Context, id string) (Status, error) {
	owner, found, err := d.store.Get(ctx, "offering_node:"+id)
	if err != nil {
		return Status{}, err
	}
	payload, _, err := d.store.Get(ctx, "offering:"+id)
	if err != nil {
		return Status{}, err
	}
	state := "unknown"
	if found {
		state = "placed"
	}
	return Status{AssignedNode: owner, Payload: payload, State: state}, nil
}

// Redistribute implements health.Redistributor: moves every offering
// tracked under node_offerings:{owner} onto new ring targets, excluding
// owner itself since the Health Supervisor has not yet removed it from
// the ring at the point this is called (§4.4's death block runs
// redistribute before ring removal). A failed POST leaves that id in
// the source set; the Health Supervisor calls Redistribute again on each
// probe cycle while the node stays dead, per §4.6's failure
// semantics; ids that succeed are moved out of it, so the key is left
// empty (and so effectively gone) only once every tracked id has
// relocated.
func (d *Driver) Redistribute(ctx context.Context, owner string) error {
	ids, err := d.store.SMembers(ctx, "node_offerings:"+owner)
	if err != nil {
		return fmt.Errorf("listing offerings for dying node %s: %w", owner, err)
	}

	for _, id := range ids {
		payload, found, err := d.store.Get(ctx, "offering:"+id)
		if err != nil || !found {
			d.logf("redistribute: no stored payload for offering %s, skipping", id)
			continue
		}

		target, ok := d.pickRedistributionTarget(id, owner)
		if !ok {
			d.logf("redistribute: no live target for offering %s (excluding %s)", id, owner)
			continue
		}

		node, ok := d.nodes.Get(target)
		if !ok {
			d.logf("redistribute: target %s has no known node record, skipping", target)
			continue
		}

		client := catalogue.New(node.NodeURL)
		client.SetLogger(d.logger)
		if err := client.StorePayload(ctx, []byte(payload), d.postTimeout); err != nil {
			d.logf("redistribute: POST to %s for offering %s failed: %v", node.NodeURL, id, err)
			continue
		}

		relocErr := retry.Do(ctx, retry.Default(), func() error {
			if err := d.store.SAdd(ctx, "node_offerings:"+target, id); err != nil {
				return err
			}
			if err := d.store.Set(ctx, "offering_node:"+id, target); err != nil {
				return err
			}
			return d.store.SRem(ctx, "node_offerings:"+owner, id)
		})
		if relocErr != nil {
			d.logf("redistribute: recording relocation of %s to %s failed after retries: %v", id, target, relocErr)
		}
	}

	return nil
}

// pickRedistributionTarget asks the ring for one extra candidate beyond
// the replica count so the dying owner (still a ring member at this
// point) can be filtered out while still returning a live target.
func (d *Driver) pickRedistributionTarget(id, excludeOwner string) (string, bool) {
	candidates := d.ring.GetN(id, d.replicas+1)
	for _, c := range candidates {
		if c != excludeOwner {
			return c, true
		}
	}
	return "", false
}

func (d *Driver) logf(format string, args ...any) {
	if d.logger == nil {
		return
	}
	d.logger.Infof(format, args...)
}

func (d *Driver) bumpOutcome(outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.PlacementsTotal.WithLabelValues(outcome).Inc()
}
