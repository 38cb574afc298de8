// Package api hosts the HTTP server, middleware, and handlers of the notice
// bot. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /crawl-and-notify for the external scheduler.
//   - GET /status for a quick look at the newest post.
//   - POST /line/webhook for platform events, when enabled.
//   - GET/POST /admin/db for subscriber and ledger maintenance.
package api
