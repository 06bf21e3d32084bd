// Package api hosts the ops HTTP surface:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger a run outside the schedule.
//   - GET /v1/runs/last for the most recent run ledger row.
package api
