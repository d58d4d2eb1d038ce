// Package server implements the HTTP surface of the uploader: the chunk
// upload endpoint, health and readiness endpoints and the Prometheus metrics
// endpoint. It wires routing, middleware (request ids, access logging,
// security headers, rate limiting, compression) and provides lifecycle
// helpers used by tests and the production binary.
package server
