// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs/{workflow} to start a discover, verify, or reap run.
//   - GET /v1/runs/{run_id} to poll a run started over HTTP.
//   - GET /v1/opportunities to look up a stored opportunity.
package api
