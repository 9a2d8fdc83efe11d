// Package catalogue is the HTTP client for a catalogue node's three
// relevant endpoints (§6 outbound table): health probe (/test), offering
// ingestion (/manager), and federated query fan-out (/sparql). Grounded
// on the teacher's internal/cluster PostJSON/GetJSON pattern, generalized
// to the content types and status codes this domain's nodes use instead
// of the teacher's own node protocol.
package catalogue

import (
	"context"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
)

// Client talks to one catalogue node, identified by its NodeURL
// (the "{scheme}://{host}:3030/catalogue" convention of §3).
type Client struct {
	nodeURL string
	logger  *logging.Logger
}

// New constructs a Client for the given node's catalogue base URL.
func New(nodeURL string) *Client {
	return &Client{nodeURL: nodeURL}
}

// SetLogger wires a logger for LogOutboundCall entries on every request
// this Client makes. Without one, calls proceed silently.
func (c *Client) SetLogger(logger *logging.Logger) { c.logger = logger }

// logOutbound records one outbound call via LogOutboundCall, a no-op if
// no logger was wired.
func (c *Client) logOutbound(ctx context.Context, url string, start time.Time, err error) {
	if c.logger != nil {
		c.logger.LogOutboundCall(ctx, "catalogue-node", url, time.Since(start), err)
	}
}

// Probe checks node health via GET {node_url}/test, per §4.4. Success is
// HTTP 200 within timeout; anything else (non-200, connection error,
// timeout) is a failure, returned as an error whose message is suitable
// for attaching to the node record for observability.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	url := c.nodeURL + "/test"
	start := time.Now()
	status, err := cluster.GetStatus(ctx, url, timeout)
	c.logOutbound(ctx, url, start, err)
	if err != nil {
		return err
	}
	if status != 200 {
		return &unexpectedStatus{status: status}
	}
	return nil
}

type unexpectedStatus struct{ status int }

func (e *unexpectedStatus) Error() string {
	return "unexpected probe status"
}

// StatusCode exposes the HTTP status an unexpectedStatus error carries,
// for callers that want to log it.
func (e *unexpectedStatus) StatusCode() int { return e.status }

// StorePayload POSTs the JSON-LD payload to {node_url}/manager, per
// §4.6 step 3. Success is HTTP 200 or 201.
func (c *Client) StorePayload(ctx context.Context, payload []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.nodeURL + "/manager"
	start := time.Now()
	status, err := cluster.PostJSONWithContentType(ctx, url, "application/ld+json", payload, nil)
	c.logOutbound(ctx, url, start, err)
	if err != nil {
		return err
	}
	if status != 200 && status != 201 {
		return &unexpectedStatus{status: status}
	}
	return nil
}

// SparqlResult is the SPARQL JSON results format used throughout §4.7 and
// §8: `head.vars` plus `results.bindings`, each binding an arbitrary
// variable->term map.
type SparqlResult struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]any `json:"bindings"`
	} `json:"results"`
}

// Query POSTs a SPARQL query to {node_url}/sparql and returns the decoded
// results-JSON. A response with status 300 or above yields an error; per §4.7, the
// federated query engine's fan-out shape treats that as "contributes an
// empty list", not a fatal error for the whole query — the caller decides
// that policy, not this client.
func (c *Client) Query(ctx context.Context, query string, timeout time.Duration) (*SparqlResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.nodeURL + "/sparql"
	body := map[string]string{"query": query}
	var result SparqlResult
	start := time.Now()
	err := cluster.PostJSON(ctx, url, body, &result)
	c.logOutbound(ctx, url, start, err)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// NodeURL returns the client's target catalogue base URL.
func (c *Client) NodeURL() string { return c.nodeURL }
