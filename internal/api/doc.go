// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/session/start|stop and GET /v1/session/status to drive the
//     time-boxed crawl session.
//   - /v1/sources/{source}/... for progress, products, reset, on-demand crawls
//     and category discovery.
//   - GET /v1/runs for run history.
package api
