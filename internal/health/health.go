// Package health implements the Health Supervisor of §4.4: a long-lived
// loop that probes each known node, drives the per-node
// healthy/suspect/dead state machine, and — as a side effect of a node
// dying — triggers redistribution and ring removal. Grounded on the
// teacher's internal/coordinator/health_monitor.go ticking/callback
// shape, generalized from its fixed-failure-count threshold to the
// grace-period state machine this domain specifies.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/catalogue"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/metrics"
	"github.com/sedimark/catalogue-coordinator/internal/registry"
	"github.com/sedimark/catalogue-coordinator/internal/ring"
)

// Defaults per §4.4.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 10 * time.Second
	DefaultGracePeriod   = 60 * time.Second
)

// Node statuses, per §4.4's state machine. "suspect" is an internal
// transitional state; the node record persisted via the Registry only
// ever carries "healthy" or "unhealthy".
const (
	StatusHealthy = "healthy"
	StatusSuspect = "suspect"
	StatusDead    = "dead"
)

// Redistributor moves a dying node's tracked offerings onto new ring
// targets. Implemented by the Placement Driver; kept as an interface
// here so this package never imports placement.
type Redistributor interface {
	Redistribute(ctx context.Context, owner string) error
}

// probeFunc performs one liveness check against a node's catalogue URL.
type probeFunc func(ctx context.Context, nodeURL string, timeout time.Duration) error

type nodeState struct {
	status        string
	suspectSince  time.Time
	failureReason string
}

// Supervisor owns the per-node health state machine.
type Supervisor struct {
	mu     sync.Mutex // serialises a single node's state transition
	states map[string]*nodeState

	// deathMu serialises the atomic death block (redistribute+remove)
	// across nodes, per §4.6/§5: concurrent deaths must not interleave
	// their redistribution of overlapping offering sets.
	deathMu sync.Mutex

	registry      *registry.Registry
	ring          *ring.Ring
	redistributor Redistributor
	probe         probeFunc

	probeInterval time.Duration
	probeTimeout  time.Duration
	gracePeriod   time.Duration

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New constructs a Supervisor with the §4.4 default intervals.
func New(reg *registry.Registry, r *ring.Ring, logger *logging.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		states:        make(map[string]*nodeState),
		registry:      reg,
		ring:          r,
		probe:         defaultProbe(logger),
		probeInterval: DefaultProbeInterval,
		probeTimeout:  DefaultProbeTimeout,
		gracePeriod:   DefaultGracePeriod,
		logger:        logger,
		metrics:       m,
	}
}

// defaultProbe closes over logger so every probe's outbound call is
// recorded via LogOutboundCall.
func defaultProbe(logger *logging.Logger) probeFunc {
	return func(ctx context.Context, nodeURL string, timeout time.Duration) error {
		client := catalogue.New(nodeURL)
		client.SetLogger(logger)
		return client.Probe(ctx, timeout)
	}
}

// SetRedistributor wires the Placement Driver's redistribution entry
// point; without one, a death transition only removes the node from the
// ring, leaving its offerings unassigned until wired.
func (s *Supervisor) SetRedistributor(r Redistributor) { s.redistributor = r }

// SetIntervals overrides the §4.4 defaults, e.g. from configuration.
func (s *Supervisor) SetIntervals(probeInterval, probeTimeout, gracePeriod time.Duration) {
	s.probeInterval = probeInterval
	s.probeTimeout = probeTimeout
	s.gracePeriod = gracePeriod
}

// Tick probes every node the registry currently knows about, with
// bounded parallelism, and applies the resulting state transitions.
func (s *Supervisor) Tick(ctx context.Context) {
	nodes := s.registry.List(ctx)

	const maxInFlight = 8
	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup

	for _, n := range nodes {
		owner, nodeURL := n.Owner, n.NodeURL
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := s.probe(ctx, nodeURL, s.probeTimeout)
			s.transition(ctx, owner, err)
		}()
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.NodesKnown.Set(float64(len(nodes)))
		s.metrics.RingSize.Set(float64(len(s.ring.Owners())))
	}
}

// transition applies one probe outcome to owner's state machine, per the
// §4.4 table.
func (s *Supervisor) transition(ctx context.Context, owner string, probeErr error) {
	s.mu.Lock()
	st, ok := s.states[owner]
	if !ok {
		st = &nodeState{status: StatusHealthy}
		s.states[owner] = st
	}

	switch st.status {
	case StatusHealthy:
		if probeErr == nil {
			st.failureReason = ""
			s.mu.Unlock()
			return
		}
		st.status = StatusSuspect
		st.suspectSince = time.Now()
		st.failureReason = probeErr.Error()
		s.mu.Unlock()
		s.logf("node %s became suspect: %v", owner, probeErr)
		s.registry.UpdateStatus(ctx, owner, StatusHealthy, probeErr.Error())

	case StatusSuspect:
		if probeErr == nil {
			st.status = StatusHealthy
			st.failureReason = ""
			s.mu.Unlock()
			s.logf("node %s recovered", owner)
			s.registry.UpdateStatus(ctx, owner, StatusHealthy, "")
			s.bumpHealthTransition("recovered")
			return
		}
		st.failureReason = probeErr.Error()
		elapsed := time.Since(st.suspectSince)
		if elapsed < s.gracePeriod {
			s.mu.Unlock()
			s.logf("node %s still suspect, grace remaining %s", owner, s.gracePeriod-elapsed)
			return
		}
		st.status = StatusDead
		s.mu.Unlock()
		s.bumpHealthTransition("dead")
		s.handleDeath(ctx, owner)

	case StatusDead:
		if probeErr == nil {
			st.status = StatusHealthy
			st.suspectSince = time.Time{}
			st.failureReason = ""
			s.mu.Unlock()
			s.ring.Add(owner)
			s.registry.UpdateStatus(ctx, owner, StatusHealthy, "")
			s.logf("dead node %s recovered, re-added to ring", owner)
			s.bumpHealthTransition("recovered")
			return
		}
		s.mu.Unlock()
		// Offerings whose redistribution failed are still tracked under
		// node_offerings:{owner}; retry them on every probe cycle the node
		// stays dead.
		if s.redistributor != nil {
			s.deathMu.Lock()
			err := s.redistributor.Redistribute(ctx, owner)
			s.deathMu.Unlock()
			if err != nil {
				s.logf("redistribution retry for dead node %s failed: %v", owner, err)
			}
		}
	}
}

// handleDeath performs the atomic death block of §4.4/§4.6: mark the
// node unhealthy, redistribute its tracked offerings, then remove it
// from the ring. Serialised by deathMu across concurrently dying nodes.
func (s *Supervisor) handleDeath(ctx context.Context, owner string) {
	s.deathMu.Lock()
	defer s.deathMu.Unlock()

	s.registry.UpdateStatus(ctx, owner, "unhealthy", "grace period expired")

	if s.redistributor != nil {
		if err := s.redistributor.Redistribute(ctx, owner); err != nil {
			s.logf("redistribution for dead node %s failed: %v", owner, err)
		}
	}

	s.ring.Remove(owner)
	s.logf("node %s removed from ring after grace period expiry", owner)
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Infof(format, args...)
}

func (s *Supervisor) bumpHealthTransition(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.NodeHealthTransitions.WithLabelValues(outcome).Inc()
}
