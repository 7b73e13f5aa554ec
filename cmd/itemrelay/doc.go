// Package main hosts the itemrelay entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics and item ingest endpoints. Items posted to
//     /v1/items/{spider} are parsed into ordered JSON objects and queued; /v1/items/{spider}/sync runs the pipeline
//     inline and returns the per-sink outcome.
//   - Dispatcher & queue: items flow through a bounded in-memory queue sized by pipeline.queue_depth and are fanned
//     out to a fixed worker pool sized by pipeline.workers.
//   - Pipeline: each item is normalized, validated against the configured JSON schemas, claimed in the idempotency
//     store keyed by (canonical URL, spider), checked for freshness, then delivered to every configured sink
//     concurrently. A claimed item that no sink accepted is released so a later scrape can retry it.
//   - Sinks: discord, synoptic, telegram, gRPC feed, websocket, generic HTTP, Pub/Sub and blob archive (local or
//     GCS). A sink is active only when its configuration is present.
//   - Configuration & plumbing: Viper populates config from a file and ITEMRELAY_* environment variables; zap
//     provides structured logging; Prometheus metrics are exported on /metrics; the progress Hub batches item
//     events for the log and metrics sinks.
//
// Operational notes:
//   - Store backends: postgres (default), sqlite for single-host runs, memory for tests and dry runs.
//   - Shutdown: SIGINT/SIGTERM stops the HTTP server, closes the queue, waits for workers to drain, then closes
//     sinks, the progress hub and the store.
//   - Batch use: `itemrelay relay --spider news < items.jsonl` processes a file without the HTTP server;
//     `itemrelay expire --days 30` prunes old idempotency records.
package main
