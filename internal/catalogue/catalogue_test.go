package catalogue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/test" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL)
	if err := c.Probe(context.Background(), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProbeFailureNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(server.URL)
	err := c.Probe(context.Background(), time.Second)
	if err == nil {
		t.Fatal("expected error for non-200 probe response")
	}
	var us *unexpectedStatus
	if e, ok := err.(*unexpectedStatus); ok {
		us = e
	}
	if us == nil || us.StatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("expected unexpectedStatus(503), got %v", err)
	}
}

func TestStorePayloadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manager" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/ld+json" {
			t.Errorf("expected application/ld+json, got %s", ct)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := New(server.URL)
	if err := c.StorePayload(context.Background(), []byte(`{}`), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStorePayloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(server.URL)
	if err := c.StorePayload(context.Background(), []byte(`{}`), time.Second); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sparql" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"head":{"vars":["x"]},"results":{"bindings":[{"x":{"value":"1"}}]}}`))
	}))
	defer server.Close()

	c := New(server.URL)
	result, err := c.Query(context.Background(), "SELECT ?x WHERE { ?x ?p ?o }", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Results.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %v", result.Results.Bindings)
	}
}
