// Package api hosts the HTTP server, middleware, and REST handlers of the
// relay. Notable routes:
//   - GET /healthz and /readyz for Kubernetes health checks; readyz pings the
//     idempotency store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/items/{spider} to queue one item, and
//     POST /v1/items/{spider}/sync to process it inline and return the result.
package api
