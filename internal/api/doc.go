// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - POST /scrape submits a batch and returns request ids.
//   - GET /result/{request_id} returns one result record.
//   - GET /health for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
