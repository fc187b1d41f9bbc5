// Package api hosts the operator HTTP surface of the harvester. Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the schedule and queue state.
//   - POST /v1/runs to trigger a batch outside the schedule.
package api
