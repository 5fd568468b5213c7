// Package api hosts the HTTP server, middleware, and handlers for the bridge
// host. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frames upgrades to a WebSocket carrying bridge envelopes for
//     one content frame.
//   - POST /v1/beacon accepts a single envelope sent on page unload.
//   - GET /v1/learners/{learner_id}/content/{content_id}/checkpoint and
//     /completion report stored progress via the host service.
package api
