// Package main hosts the bridge host service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the /v1/frames WebSocket that carries bridge envelopes
//     for one embedded content frame, a /v1/beacon endpoint for the envelope a frame sends while unloading, and
//     read-only checkpoint and completion routes.
//   - Host sessions: internal/host.Service attaches each WebSocket as a session. It answers READY with SESSION and
//     RESUME_REQUEST with RESUME_DATA, persists STATE and SUSPEND checkpoints on a latest-timestamp-wins basis, and
//     records COMPLETE reports. EVENT envelopes pass a per-content token bucket before they are relayed.
//   - Persistence: checkpoints and completions live in memory, Postgres (pgx) or SQLite; SUSPEND snapshots are
//     optionally archived to a BlobStore (memory/local/GCS).
//   - Relay: accepted envelopes are buffered in a non-blocking hub and fanned out in batches to log, Prometheus and
//     Pub/Sub sinks. A slow or failing sink never stalls a frame.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans wrap frame handling
//     and trace context is injected into Pub/Sub attributes.
//
// Operational notes:
//   - Delivery is best-effort end to end. A frame that disconnects mid-send loses that envelope; the next STATE or
//     SUSPEND supersedes it.
//   - Shutdown: SIGINT/SIGTERM cancel the base context, which ends open WebSocket sessions, then the HTTP server
//     drains and the relay hub flushes its last batch.
//
// Quick checklist:
//   - Configure env vars: BRIDGE_SERVER_PORT, BRIDGE_STORE_BACKEND (memory/postgres/sqlite), BRIDGE_STORE_DSN or
//     BRIDGE_STORE_SQLITE_PATH, BRIDGE_ARCHIVE_BACKEND, BRIDGE_PUBSUB_PROJECT_ID and BRIDGE_PUBSUB_TOPIC_NAME.
//   - Run locally: go run ./cmd/bridgehost -config config.yaml (or rely solely on env overrides).
//   - Drive it: go run ./cmd/contentsim -url ws://localhost:8080/v1/frames -learner ada -kind video.
package main
