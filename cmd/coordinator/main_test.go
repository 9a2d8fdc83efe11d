package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/config"
	"github.com/sedimark/catalogue-coordinator/internal/federation"
	"github.com/sedimark/catalogue-coordinator/internal/kv"
	"github.com/sedimark/catalogue-coordinator/internal/ledger"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/placement"
	"github.com/sedimark/catalogue-coordinator/internal/ring"
	"github.com/sedimark/catalogue-coordinator/internal/workerpool"
)

type fakeNodeLookup struct {
	nodes map[string]cluster.Node
}

func (f *fakeNodeLookup) Get(owner string) (cluster.Node, bool) {
	n, ok := f.nodes[owner]
	return n, ok
}

type fakeNodeLister struct {
	nodes []cluster.Node
}

func (f *fakeNodeLister) List(ctx context.Context) []cluster.Node {
	return f.nodes
}

// newTestAPI wires a minimal api against an in-memory KV store and a
// single live node, for exercising the HTTP handlers without a real
// ledger or catalogue deployment.
func newTestAPI(t *testing.T, ledgerSrv *httptest.Server, node *httptest.Server) *api {
	t.Helper()

	store := kv.NewMemory()
	r := ring.New(4, store)
	r.Add("did:node-1")

	lookup := &fakeNodeLookup{nodes: map[string]cluster.Node{
		"did:node-1": {Owner: "did:node-1", NodeURL: node.URL},
	}}

	driver := placement.New(r, lookup, store, nil, nil)
	driver.SetTimeouts(time.Second, time.Second)

	pool := workerpool.New(2, nil, nil)

	lister := &fakeNodeLister{nodes: []cluster.Node{{Owner: "did:node-1", NodeURL: node.URL}}}
	engine := federation.New(federation.ShapeFanOut, lister, "", nil, nil)

	cfg := &config.Config{NodeTimeout: 2 * time.Second}

	return &api{
		cfg:    cfg,
		logger: logging.New("test", "info", "text"),
		ledger: ledger.New(ledgerSrv.URL),
		driver: driver,
		pool:   pool,
		engine: engine,
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestAPI(t, httptest.NewServer(http.NotFoundHandler()), httptest.NewServer(http.NotFoundHandler()))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", body["status"])
	}
	if body["service"] != "catalogue-coordinator" {
		t.Errorf("expected service catalogue-coordinator, got %v", body["service"])
	}
}

func TestHandleOfferingStatusMissingID(t *testing.T) {
	srv := newTestAPI(t, httptest.NewServer(http.NotFoundHandler()), httptest.NewServer(http.NotFoundHandler()))

	req := httptest.NewRequest(http.MethodPost, "/offerings", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.handleOfferingStatus(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleOfferingStatusNotPlacedYet(t *testing.T) {
	srv := newTestAPI(t, httptest.NewServer(http.NotFoundHandler()), httptest.NewServer(http.NotFoundHandler()))

	body, _ := json.Marshal(offeringStatusRequest{OfferingsID: "urn:offering:unknown"})
	req := httptest.NewRequest(http.MethodPost, "/offerings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleOfferingStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleOfferingStatusByIDAfterPlacement(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer node.Close()

	srv := newTestAPI(t, httptest.NewServer(http.NotFoundHandler()), node)

	meta := &cluster.OfferingMeta{ID: "urn:offering:1", DescriptionURI: newDescriptionServer(t).URL, Owner: "did:node-1"}
	ok, err := srv.driver.Process(context.Background(), meta.ID, meta)
	if err != nil || !ok {
		t.Fatalf("expected successful placement, got ok=%v err=%v", ok, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/offerings/status/urn:offering:1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "urn:offering:1"})
	rec := httptest.NewRecorder()
	srv.handleOfferingStatusByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["assigned_node"] != "did:node-1" {
		t.Errorf("expected assigned_node did:node-1, got %v", resp["assigned_node"])
	}
}

func TestHandleOfferingsProcessNoNewOfferings(t *testing.T) {
	ledgerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"addresses":[]}`))
	}))
	defer ledgerSrv.Close()

	srv := newTestAPI(t, ledgerSrv, httptest.NewServer(http.NotFoundHandler()))

	req := httptest.NewRequest(http.MethodPost, "/offerings/process", nil)
	rec := httptest.NewRecorder()
	srv.handleOfferingsProcess(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when there is nothing new to process, got %d", rec.Code)
	}
}

func TestHandleOfferingsProcessRoutesThroughWorkerPool(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer node.Close()

	desc := newDescriptionServer(t)

	ledgerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/offerings":
			w.Write([]byte(`{"addresses":["urn:offering:1"]}`))
		default:
			w.Write([]byte(`{"id":"urn:offering:1","descriptionUri":"` + desc.URL + `","owner":"did:node-1"}`))
		}
	}))
	defer ledgerSrv.Close()

	srv := newTestAPI(t, ledgerSrv, node)

	req := httptest.NewRequest(http.MethodPost, "/offerings/process", nil)
	rec := httptest.NewRecorder()
	srv.handleOfferingsProcess(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["successful"] != float64(1) {
		t.Errorf("expected 1 successful placement, got %v", resp["successful"])
	}
}

func TestHandleSparqlRejectsEmptyQuery(t *testing.T) {
	srv := newTestAPI(t, httptest.NewServer(http.NotFoundHandler()), httptest.NewServer(http.NotFoundHandler()))

	req := httptest.NewRequest(http.MethodPost, "/sparql", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	srv.handleSparql(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a request with no query, got %d", rec.Code)
	}
}

func newDescriptionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"@id":"urn:offering:1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}
