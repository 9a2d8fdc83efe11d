package fakenode

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleTestReflectsHealthy(t *testing.T) {
	n := New()
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 while healthy, got %d", resp.StatusCode)
	}

	n.SetHealthy(false)
	resp, err = http.Get(srv.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 once unhealthy, got %d", resp.StatusCode)
	}
}

func TestHandleManagerStoresOffering(t *testing.T) {
	n := New()
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	body := []byte(`{"@id":"urn:offering:1","name":"test"}`)
	resp, err := http.Post(srv.URL+"/manager", "application/ld+json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /manager: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	ids := n.Offerings()
	if len(ids) != 1 || ids[0] != "urn:offering:1" {
		t.Errorf("expected one stored offering urn:offering:1, got %v", ids)
	}
}

func TestHandleSparqlReturnsBindingPerOffering(t *testing.T) {
	n := New()
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	for _, id := range []string{"urn:offering:1", "urn:offering:2"} {
		body := []byte(`{"@id":"` + id + `"}`)
		http.Post(srv.URL+"/manager", "application/ld+json", bytes.NewReader(body))
	}

	reqBody, _ := json.Marshal(map[string]string{"query": "SELECT * WHERE {?s ?p ?o}"})
	resp, err := http.Post(srv.URL+"/sparql", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST /sparql: %v", err)
	}
	defer resp.Body.Close()

	var result struct {
		Head struct {
			Vars []string `json:"vars"`
		} `json:"head"`
		Results struct {
			Bindings []map[string]any `json:"bindings"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decoding sparql response: %v", err)
	}

	if len(result.Head.Vars) != 1 || result.Head.Vars[0] != "s" {
		t.Errorf("expected head.vars [\"s\"], got %v", result.Head.Vars)
	}
	if len(result.Results.Bindings) != 2 {
		t.Errorf("expected 2 bindings, got %d", len(result.Results.Bindings))
	}
}

func TestHandleSparqlRejectsMalformedBody(t *testing.T) {
	n := New()
	srv := httptest.NewServer(n.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sparql", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("POST /sparql: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", resp.StatusCode)
	}
}
