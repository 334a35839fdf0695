// Package api hosts the HTTP server and middleware for the bulletin service.
// Routes:
//   - GET / runs one scrape cycle; requires X-Secret-Key outside development.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
