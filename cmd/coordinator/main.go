// Package main implements the Catalogue Coordinator service: the control
// plane that discovers catalogue nodes from a distributed ledger, places
// offerings onto them via consistent hashing, keeps placement consistent
// as nodes fail and return, and answers federated SPARQL queries across
// every live node. See SPEC_FULL.md for the full component design.
//
// Configuration:
//   - All settings are environment-derived; see internal/config.
//
// Example usage:
//
//	HOST_PORT=5000 DLT_BASE_URL=http://dlt-booth:8085/api ./coordinator
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"

	"github.com/sedimark/catalogue-coordinator/internal/config"
	"github.com/sedimark/catalogue-coordinator/internal/federation"
	"github.com/sedimark/catalogue-coordinator/internal/health"
	"github.com/sedimark/catalogue-coordinator/internal/kv"
	"github.com/sedimark/catalogue-coordinator/internal/ledger"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/metrics"
	"github.com/sedimark/catalogue-coordinator/internal/placement"
	"github.com/sedimark/catalogue-coordinator/internal/registry"
	"github.com/sedimark/catalogue-coordinator/internal/ring"
	"github.com/sedimark/catalogue-coordinator/internal/scheduler"
	"github.com/sedimark/catalogue-coordinator/internal/workerpool"
)

func main() {
	cfg := config.Load()
	logger := logging.New("coordinator", cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	redisBackend := kv.NewRedis(cfg.RedisAddr(), cfg.RedisDB, cfg.RedisPassword)
	store := kv.New(redisBackend, func(err error) {
		logger.WithError(err).Warn("KV backend unreachable, falling back to in-process store")
	})

	ledgerClient := ledger.New(cfg.DLTBaseURL)
	ledgerClient.SetLogger(logger.With("ledger"))
	reg := registry.New(ledgerClient, store, logger.With("registry"))
	hashRing := ring.New(cfg.HashRingVirtualNodes, store)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	seedRegistry(startCtx, cfg, reg, hashRing, logger)
	startCancel()

	driver := placement.New(hashRing, reg, store, logger.With("placement"), m)
	driver.SetReplicas(cfg.RedundancyReplicas)

	sup := health.New(reg, hashRing, logger.With("health"), m)
	sup.SetRedistributor(driver)
	sup.SetIntervals(cfg.NodeHealthCheckInterval, cfg.NodeTimeout, cfg.NodeGracePeriod)

	pool := workerpool.New(cfg.WorkerPoolSize, logger.With("workerpool"), m)
	poller := placement.NewPoller(ledgerClient, driver, pool, logger.With("placement"))

	shape := federation.ShapeFanOut
	if cfg.SparqlUpstreamURL != "" {
		shape = federation.ShapeRewrite
	}
	engine := federation.New(shape, reg, cfg.SparqlUpstreamURL, logger.With("federation"), m)

	sched := scheduler.New(logger.With("scheduler"))
	if err := sched.Every(cfg.NodeHealthCheckInterval, "health-probe", sup.Tick); err != nil {
		logger.WithError(err).Fatal("failed to schedule health probe loop")
	}
	if err := sched.Every(cfg.OfferingFetchInterval, "placement-poll", poller.PollOnce); err != nil {
		logger.WithError(err).Fatal("failed to schedule placement poll loop")
	}
	sched.Start()

	srv := &api{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		ledger:  ledgerClient,
		driver:  driver,
		pool:    pool,
		engine:  engine,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/offerings", srv.handleOfferingStatus).Methods(http.MethodPost)
	router.HandleFunc("/offerings/process", srv.handleOfferingsProcess).Methods(http.MethodPost)
	router.HandleFunc("/offerings/status/{id}", srv.handleOfferingStatusByID).Methods(http.MethodGet)
	router.HandleFunc("/sparql", srv.handleSparql).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(srv.loggingMiddleware)

	addr := fmt.Sprintf("%s:%s", cfg.HostAddress, cfg.HostPort)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("coordinator listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	sched.Stop()
	pool.Stop(true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown error")
	}
	logger.Info("coordinator stopped")
}

// seedRegistry populates the node registry and ring from either the
// ledger (default) or a static baseline file (BASELINE_INFRA=true),
// per §4.2.
func seedRegistry(ctx context.Context, cfg *config.Config, reg *registry.Registry, r *ring.Ring, logger *logging.Logger) {
	var owners []string
	if cfg.BaselineInfra {
		discovered, err := reg.DiscoverFromFile(ctx, cfg.BaselineNodesFile)
		if err != nil {
			logger.WithError(err).Error("baseline node discovery failed, starting with an empty registry")
		}
		for _, n := range discovered {
			owners = append(owners, n.Owner)
		}
	} else {
		discovered := reg.DiscoverAndStore(ctx)
		for _, n := range discovered {
			owners = append(owners, n.Owner)
		}
	}

	slices.Sort(owners)
	for _, owner := range owners {
		r.Add(owner)
	}
	logger.Infof("seeded registry with %d node(s): %v", len(owners), owners)
}

// api holds the handler state shared across HTTP routes.
type api struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	ledger  *ledger.Client
	driver  *placement.Driver
	pool    *workerpool.Pool
	engine  *federation.Engine
}

func (s *api) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := logging.NewTraceID()
		ctx := logging.WithTraceID(r.Context(), traceID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		duration := time.Since(start)
		s.logger.LogRequest(ctx, r.Method, r.URL.Path, rec.status, duration)

		if s.metrics != nil {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			status := strconv.Itoa(rec.status)
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth answers GET /health.
func (s *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "catalogue-coordinator",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type offeringStatusRequest struct {
	OfferingsID string `json:"offerings_id"`
}

func offeringStatusResponse(id string, status placement.Status) map[string]any {
	return map[string]any{
		"status":          "ok",
		"offering_id":     id,
		"assigned_node":   status.AssignedNode,
		"offering_status": status.State,
	}
}

// handleOfferingStatus answers POST /offerings: look up the last-known
// placement of offerings_id.
func (s *api) handleOfferingStatus(w http.ResponseWriter, r *http.Request) {
	var req offeringStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OfferingsID == "" {
		writeError(w, http.StatusBadRequest, "missing offerings_id")
		return
	}

	status, err := s.driver.Status(r.Context(), req.OfferingsID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read placement status")
		return
	}
	if status.State != "placed" {
		writeError(w, http.StatusNotFound, "offering not placed yet")
		return
	}
	writeJSON(w, http.StatusOK, offeringStatusResponse(req.OfferingsID, status))
}

// handleOfferingStatusByID answers GET /offerings/status/<id>.
func (s *api) handleOfferingStatusByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.driver.Status(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read placement status")
		return
	}
	if status.State != "placed" {
		writeError(w, http.StatusNotFound, "offering not placed yet")
		return
	}
	writeJSON(w, http.StatusOK, offeringStatusResponse(id, status))
}

// handleOfferingsProcess answers POST /offerings/process: a manual
// trigger of one placement cycle, returning a summary of what was
// attempted, per §6.
func (s *api) handleOfferingsProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids, err := s.ledger.ListOfferingIDs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger discovery failed")
		return
	}

	fresh := s.driver.FilterNew(ids)
	if len(fresh) == 0 {
		writeError(w, http.StatusNotFound, "no new offerings to process")
		return
	}

	type detail struct {
		OfferingID string `json:"offering_id"`
		Success    bool   `json:"success"`
	}
	details := make([]detail, 0, len(fresh))
	successful := 0

	items := make([]workerpool.OfferingItem, 0, len(fresh))
	for _, id := range fresh {
		meta, err := s.ledger.GetOfferingMeta(ctx, id)
		if err != nil {
			details = append(details, detail{OfferingID: id, Success: false})
			continue
		}
		items = append(items, workerpool.OfferingItem{ID: id, Meta: meta})
	}

	taskIDs := s.pool.SubmitBulkOfferingProcessing(s.driver, items)
	for i, taskID := range taskIDs {
		value, err := s.pool.Result(ctx, taskID, s.cfg.NodeTimeout)
		ok, _ := value.(bool)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warnf("processing offering %s failed", items[i].ID)
		}
		if ok {
			successful++
		}
		details = append(details, detail{OfferingID: items[i].ID, Success: ok})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(fresh),
		"successful": successful,
		"failed":     len(fresh) - successful,
		"details":    details,
	})
}

// handleSparql answers POST /sparql, per §4.7.
func (s *api) handleSparql(w http.ResponseWriter, r *http.Request) {
	query, err := federation.ParseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := s.engine.Execute(r.Context(), query, r.Header.Get("Accept"))
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
