// Package cluster defines the wire-level vocabulary shared by every
// component that talks to the ledger or to a catalogue node: the Node and
// OfferingMeta structs, and the PostJSON/GetJSON/GetStatus helpers that
// every outbound HTTP call in the system is built on.
//
// # Architecture
//
// The Coordinator never calls net/http directly outside this package. Each
// outbound collaborator (internal/ledger, internal/catalogue) builds its
// request URLs and decides its own timeout, then delegates the actual
// round trip to PostJSON/GetJSON/GetStatus here. Centralising the HTTP
// client keeps connection pooling and header conventions (Content-Type,
// Accept) consistent across the ledger client, the catalogue client, and
// the federated query engine's fan-out.
//
// # Node identity
//
// A Node's Owner field, not its Address, is its identity: addresses can
// change across restarts and redeploys, but the ledger DID does not. Every
// keyed structure in the system — ring slots, node_offerings sets, KV
// records — is keyed on Owner.
//
// # Thread safety
//
// The package-level httpClient is safe for concurrent use; all exported
// functions here are safe to call from multiple goroutines simultaneously,
// which the Health Supervisor's probe loop and the federated query
// engine's fan-out both rely on.
package cluster
