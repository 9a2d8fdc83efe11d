// Package federation implements the Federated Query Engine of §4.7: it
// accepts a SPARQL query over HTTP in any of three encodings and answers
// it by querying every live catalogue node, in one of two specified
// shapes. The rewrite-and-forward shape's regex-based WHERE-clause
// extraction is grounded directly on the Python original's
// api/offerings_retrieval.py _build_federated_query_with_regex.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sedimark/catalogue-coordinator/internal/catalogue"
	"github.com/sedimark/catalogue-coordinator/internal/cluster"
	"github.com/sedimark/catalogue-coordinator/internal/logging"
	"github.com/sedimark/catalogue-coordinator/internal/metrics"
)

// Shape selects which of the two specified federation strategies an
// Engine uses.
type Shape string

const (
	// ShapeFanOut queries every live node directly and merges results —
	// the default/fallback shape.
	ShapeFanOut Shape = "fanout"

	// ShapeRewrite rewrites the query into a UNION of SERVICE blocks and
	// forwards it to a single upstream SPARQL endpoint.
	ShapeRewrite Shape = "rewrite"
)

// DefaultPerNodeTimeout is the federated query per-request timeout of §5.
const DefaultPerNodeTimeout = 10 * time.Second

// NodeLister supplies the current live node set. Implemented by
// internal/registry.Registry.
type NodeLister interface {
	List(ctx context.Context) []cluster.Node
}

// Engine answers federated SPARQL queries.
type Engine struct {
	shape       Shape
	nodes       NodeLister
	upstreamURL string

	perNodeTimeout  time.Duration
	upstreamTimeout time.Duration

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New constructs an Engine. upstreamURL is only used by ShapeRewrite.
func New(shape Shape, nodes NodeLister, upstreamURL string, logger *logging.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		shape:           shape,
		nodes:           nodes,
		upstreamURL:     upstreamURL,
		perNodeTimeout:  DefaultPerNodeTimeout,
		upstreamTimeout: DefaultPerNodeTimeout,
		logger:          logger,
		metrics:         m,
	}
}

// SetTimeouts overrides the per-node fan-out timeout and the shape-2
// upstream forwarding timeout.
func (e *Engine) SetTimeouts(perNode, upstream time.Duration) {
	e.perNodeTimeout = perNode
	e.upstreamTimeout = upstream
}

// Response is the outcome of Execute: an HTTP status, content type, and
// body to write back to the original /sparql caller verbatim.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// errorResponse builds a JSON error body, per §4.7's failure semantics.
func errorResponse(status int, message string) Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return Response{Status: status, ContentType: "application/json", Body: body}
}

// ParseQuery extracts the SPARQL query text from an inbound /sparql
// request, accepting the three forms of §4.7: JSON `{"query": "..."}`,
// raw body with Content-Type application/sparql-query, or form-encoded
// `query=...`. Any other content type falls back to treating the whole
// body as the query text.
func ParseQuery(r *http.Request) (string, error) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.Contains(contentType, "application/json"):
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decoding JSON query body: %w", err)
		}
		if body.Query == "" {
			return "", errors.New("No query provided")
		}
		return body.Query, nil

	case strings.Contains(contentType, "application/sparql-query"):
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		if len(raw) == 0 {
			return "", errors.New("No query provided")
		}
		return string(raw), nil

	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		q := r.FormValue("query")
		if q == "" {
			return "", errors.New("No query provided")
		}
		return q, nil

	default:
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		if len(raw) == 0 {
			return "", errors.New("No query provided")
		}
		return string(raw), nil
	}
}

// Execute answers query according to the Engine's configured shape.
func (e *Engine) Execute(ctx context.Context, query, accept string) Response {
	start := time.Now()
	var resp Response
	switch e.shape {
	case ShapeRewrite:
		resp = e.executeRewrite(ctx, query, accept)
	default:
		resp = e.executeFanOut(ctx, query)
	}
	if e.metrics != nil {
		e.metrics.FederatedQueryDuration.WithLabelValues(string(e.shape)).Observe(time.Since(start).Seconds())
	}
	return resp
}

func liveNodes(nodes []cluster.Node) []cluster.Node {
	live := make([]cluster.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == "healthy" || n.Status == "" {
			live = append(live, n)
		}
	}
	return live
}

// executeFanOut is shape 1 of §4.7: query every live node concurrently
// and merge their bindings. A node returning an error or non-200
// contributes an empty list rather than failing the whole query.
func (e *Engine) executeFanOut(ctx context.Context, query string) Response {
	live := liveNodes(e.nodes.List(ctx))
	if len(live) == 0 {
		return errorResponse(http.StatusInternalServerError, "no live catalogue nodes available")
	}

	bindingSets := make([][]map[string]any, len(live))
	var wg sync.WaitGroup
	for i, node := range live {
		i, node := i, node
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := catalogue.New(node.NodeURL)
			client.SetLogger(e.logger)
			result, err := client.Query(ctx, query, e.perNodeTimeout)
			if err != nil {
				if e.logger != nil {
					e.logger.WithContext(ctx).WithError(err).Warnf("federated query to %s failed, contributing empty result", node.NodeURL)
				}
				return
			}
			bindingSets[i] = result.Results.Bindings
		}()
	}
	wg.Wait()

	merged := catalogue.SparqlResult{}
	merged.Head.Vars = extractProjectionVars(query)
	for _, set := range bindingSets {
		merged.Results.Bindings = append(merged.Results.Bindings, set...)
	}

	if e.metrics != nil {
		e.metrics.FederatedQueryNodes.Observe(float64(len(live)))
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "failed to encode merged results")
	}
	return Response{Status: http.StatusOK, ContentType: "application/sparql-results+json", Body: body}
}

// executeRewrite is shape 2 of §4.7: rewrite query into a UNION of
// SERVICE blocks, one per live node, and forward to a single upstream
// endpoint, passing its status/content-type/body through unchanged.
func (e *Engine) executeRewrite(ctx context.Context, query, accept string) Response {
	live := liveNodes(e.nodes.List(ctx))

	federated := query
	if len(live) > 0 {
		if rewritten, ok := rewriteQuery(query, live); ok {
			federated = rewritten
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.upstreamTimeout)
	defer cancel()

	status, contentType, body, err := cluster.PostRaw(ctx, e.upstreamURL, "application/sparql-query", []byte(federated), accept)
	if err != nil {
		if e.logger != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("failed to forward federated query upstream")
		}
		return errorResponse(http.StatusBadGateway, "failed to reach upstream SPARQL endpoint")
	}
	if contentType == "" {
		contentType = "application/sparql-results+json"
	}
	return Response{Status: status, ContentType: contentType, Body: body}
}

// selectProjectionRe extracts a SELECT query's projection clause, the
// text between SELECT [DISTINCT] and WHERE.
var selectProjectionRe = regexp.MustCompile(`(?is)SELECT\s+(?:DISTINCT\s+)?(.*?)\s+WHERE`)

// varTokenRe matches a SPARQL variable reference, e.g. ?name.
var varTokenRe = regexp.MustCompile(`\?[A-Za-z_][A-Za-z0-9_]*`)

// extractProjectionVars derives head.vars from the outer query's SELECT
// projection, per §4.7. A "SELECT *" projection yields a nil slice,
// since the actual variable names aren't statically knowable here.
func extractProjectionVars(query string) []string {
	m := selectProjectionRe.FindStringSubmatch(query)
	if m == nil {
		return nil
	}
	projection := strings.TrimSpace(m[1])
	if projection == "*" {
		return nil
	}
	matches := varTokenRe.FindAllString(projection, -1)
	if matches == nil {
		return nil
	}
	vars := make([]string, len(matches))
	for i, v := range matches {
		vars[i] = strings.TrimPrefix(v, "?")
	}
	return vars
}

// wherePattern and its fallbacks mirror the Python original's regex
// cascade for locating the outer WHERE block across query forms.
var (
	wherePattern      = regexp.MustCompile(`(?is)(SELECT\s+(?:DISTINCT\s+)?(?:REDUCED\s+)?[^{]+)\s+WHERE\s+(\{.*\})`)
	askPattern        = regexp.MustCompile(`(?is)(ASK\s*)(\{.*\})`)
	constructPattern  = regexp.MustCompile(`(?is)(CONSTRUCT\s+(?:\{[^}]*\}\s+)?WHERE\s+)(\{.*\})`)
	describePattern   = regexp.MustCompile(`(?is)(DESCRIBE\s+[^{]+\s+WHERE\s+)(\{.*\})`)
	rewriteCandidates = []*regexp.Regexp{wherePattern, askPattern, constructPattern, describePattern}
)

// rewriteQuery builds `{prefix} WHERE { SERVICE <url1> {body} UNION
// SERVICE <url2> {body} ... }` from query's outer WHERE block and the
// set of live nodes, per §4.7's shape 2.
func rewriteQuery(query string, nodes []cluster.Node) (string, bool) {
	normalized := strings.Join(strings.Fields(query), " ")

	var prefix, whereContent string
	matched := false
	for _, re := range rewriteCandidates {
		if m := re.FindStringSubmatch(normalized); m != nil {
			prefix = strings.TrimSpace(m[1])
			whereContent = strings.TrimSpace(m[2])
			matched = true
			break
		}
	}
	if !matched {
		return query, false
	}

	whereContent = strings.TrimPrefix(whereContent, "{")
	whereContent = strings.TrimSuffix(whereContent, "}")
	whereContent = strings.TrimSpace(whereContent)

	services := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeURL == "" {
			continue
		}
		services = append(services, fmt.Sprintf("SERVICE <%s> { %s }", n.NodeURL, whereContent))
	}
	if len(services) == 0 {
		return query, false
	}

	joined := strings.Join(services, "\nUNION\n")
	if strings.Contains(strings.ToUpper(prefix), "SELECT") {
		return fmt.Sprintf("%s WHERE {\n%s\n}", prefix, joined), true
	}
	return fmt.Sprintf("%s{\n%s\n}", prefix, joined), true
}
