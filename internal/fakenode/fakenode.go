// Package fakenode is an in-memory stand-in for a catalogue node,
// implementing the three endpoints the Coordinator talks to (§6):
// GET /test (health), POST /manager (offering ingestion), POST /sparql
// (query fan-out target). It exists solely as a test double — for
// test/integration and for cmd/fakenode, a small binary that serves it
// over HTTP for manual exploration. The Coordinator binary never imports
// this package.
package fakenode

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// Node is one fake catalogue node's state: the offerings it has been
// sent via /manager, and a toggleable health flag so tests can simulate
// a node going dark without tearing down its listener.
type Node struct {
	healthy atomic.Bool

	mu        sync.RWMutex
	offerings map[string][]byte // @id -> raw JSON-LD body
}

// New constructs a Node that starts healthy with no stored offerings.
func New() *Node {
	n := &Node{offerings: make(map[string][]byte)}
	n.healthy.Store(true)
	return n
}

// SetHealthy toggles whether GET /test reports success, letting a test
// simulate the node death scenario of spec.md §8 #3 without stopping the
// underlying httptest.Server.
func (n *Node) SetHealthy(ok bool) { n.healthy.Store(ok) }

// Offerings returns the @id of every offering stored via /manager so far.
func (n *Node) Offerings() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.offerings))
	for id := range n.offerings {
		ids = append(ids, id)
	}
	return ids
}

// Handler returns the node's HTTP handler, for wiring into an
// httptest.Server or a real listener (cmd/fakenode).
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/test", n.handleTest)
	mux.HandleFunc("/manager", n.handleManager)
	mux.HandleFunc("/sparql", n.handleSparql)
	return mux
}

func (n *Node) handleTest(w http.ResponseWriter, r *http.Request) {
	if !n.healthy.Load() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// offeringEnvelope extracts the @id a real catalogue node would derive
// from a JSON-LD offering body.
type offeringEnvelope struct {
	ID string `json:"@id"`
}

func (n *Node) handleManager(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var env offeringEnvelope
	_ = json.Unmarshal(body, &env) // malformed JSON-LD is still stored verbatim under its raw body
	id := env.ID
	if id == "" {
		id = string(body)
	}

	n.mu.Lock()
	n.offerings[id] = body
	n.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

type sparqlRequest struct {
	Query string `json:"query"`
}

// handleSparql answers every query the same way: one binding per stored
// offering, naming the bound variable "s" for "subject" — enough for the
// federated merge-commutativity property of spec.md §8 without needing a
// real SPARQL engine.
func (n *Node) handleSparql(w http.ResponseWriter, r *http.Request) {
	var req sparqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	n.mu.RLock()
	ids := make([]string, 0, len(n.offerings))
	for id := range n.offerings {
		ids = append(ids, id)
	}
	n.mu.RUnlock()

	type binding map[string]map[string]string
	bindings := make([]binding, 0, len(ids))
	for _, id := range ids {
		bindings = append(bindings, binding{"s": {"type": "uri", "value": id}})
	}

	resp := struct {
		Head struct {
			Vars []string `json:"vars"`
		} `json:"head"`
		Results struct {
			Bindings []binding `json:"bindings"`
		} `json:"results"`
	}{}
	resp.Head.Vars = []string{"s"}
	resp.Results.Bindings = bindings

	w.Header().Set("Content-Type", "application/sparql-results+json")
	_ = json.NewEncoder(w).Encode(resp)
}
