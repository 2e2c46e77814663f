// Package api hosts the read-only status server that runs beside a crawl.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/frontier/stats for status counts and recent activity.
//   - GET /v1/frontier/url?url= for one entry and its prefix matches.
package api
