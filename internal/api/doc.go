// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status, /v1/links/dead and /v1/domains for link reports.
//   - POST /v1/discover to queue the links found in a saved document.
package api
