// Package ledger is the thin HTTP client for the DLT booth, the external
// collaborator spec §1 places out of scope beyond its read-only contract:
// listing offering ids and fetching each offering's ledger-level
// metadata. Grounded on the Python original's utils/dlt_comm/get_nodes.py
// and offering_processor.py, which both call this same pair of endpoints.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
)

// DiscoveryTimeout is the default timeout for the ledger discovery calls
// of §5 ("discovery 10s").
const DiscoveryTimeout = 10 * time.Second

// Client talks to the DLT booth's read-only HTTP API.
type Client struct {
	baseURL string
	logger  *logging.Logger
}

// New constructs a Client for the given base URL (DLT_BASE_URL).
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

// SetLogger wires a logger for LogOutboundCall entries on every ledger
// call this Client makes. Without one, calls proceed silently.
func (c *Client) SetLogger(logger *logging.Logger) { c.logger = logger }

// logOutbound records one outbound call via LogOutboundCall, a no-op if
// no logger was wired.
func (c *Client) logOutbound(ctx context.Context, url string, start time.Time, err error) {
	if c.logger != nil {
		c.logger.LogOutboundCall(ctx, "ledger", url, time.Since(start), err)
	}
}

// offeringsIndexResponse is the shape of GET {base}/offerings: a list of
// offering ids under "addresses", per §6's outbound payload fields.
type offeringsIndexResponse struct {
	Addresses []string `json:"addresses"`
}

// ListOfferingIDs fetches the ledger's offerings index.
// A ledger-level failure returns an error; callers must treat this as
// "return whatever was already known" rather than clearing existing
// state, per §4.2's failure semantics.
func (c *Client) ListOfferingIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	var resp offeringsIndexResponse
	url := fmt.Sprintf("%s/offerings", c.baseURL)
	start := time.Now()
	err := cluster.GetJSON(ctx, url, &resp)
	c.logOutbound(ctx, url, start, err)
	if err != nil {
		return nil, err
	}
	return resp.Addresses, nil
}

// GetOfferingMeta fetches one offering's ledger-level metadata by id.
// A single fetch failure here is logged and skipped by the caller (Node
// Registry / Placement poller), never propagated as a fatal error for
// the whole discovery or polling cycle.
func (c *Client) GetOfferingMeta(ctx context.Context, id string) (*cluster.OfferingMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	var meta cluster.OfferingMeta
	url := fmt.Sprintf("%s/offerings/%s", c.baseURL, id)
	start := time.Now()
	err := cluster.GetJSON(ctx, url, &meta)
	c.logOutbound(ctx, url, start, err)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// FetchDescription fetches the full JSON-LD self-description pointed at
// by an offering's descriptionUri, with the step-1 timeout of §4.6's
// placement algorithm (default 30s). logger may be nil.
func FetchDescription(ctx context.Context, descriptionURI string, timeout time.Duration, logger *logging.Logger) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	body, err := cluster.GetRaw(ctx, descriptionURI)
	if logger != nil {
		logger.LogOutboundCall(ctx, "catalogue-node", descriptionURI, time.Since(start), err)
	}
	return body, err
}
