// Package main hosts the focus-collection service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, run triggering, run
//     inspection, and the per-run SSE event stream. A trigger validates the query,
//     creates a PENDING run, and enqueues a job before acknowledging with 202.
//   - Queue & workers: jobs flow through a bounded in-memory queue with
//     backoff-based redelivery and a dead-letter list, fanned out to a fixed
//     worker pool sized by config.Worker.Concurrency. Context cancellation stops
//     workers cleanly on shutdown.
//   - Collection pipeline: a worker claims a run via a PENDING->RUNNING
//     compare-and-swap, then the collector fans out over the query's sources with
//     bounded parallelism. Each source's candidates are sanitized against prompt
//     injection, matched against the query's keyword terms (exclude wins), and
//     persisted as content records. Per-source failures never fail the run.
//   - Egress: every fetch goes through the proxy resolver. Darknet sources are
//     refused without a SOCKS5 proxy; web sources optionally render through
//     headless Chrome.
//   - Persistence & events: run lifecycle, catalog, and matched content live in
//     Postgres (or memory when no DSN is configured). Task events stream through
//     the in-process bus to connected SSE observers only; there is no replay.
//   - Configuration & plumbing: Viper populates config from env/files (FOCUS_
//     prefix); zap provides structured logging; Prometheus collectors are served
//     on /metrics.
//
// Run locally: go run ./cmd/collectord -config config.yaml (or rely solely on
// env overrides such as FOCUS_SERVER_PORT and FOCUS_DB_DSN).
package main
