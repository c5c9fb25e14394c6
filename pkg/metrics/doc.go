// Package metrics provides Prometheus metrics for flockd: pool gauges
// (running/queued/persisted), admission and preemption counters, and
// engine/reconciler operation histograms. Handler() exposes the
// registry over HTTP for a scraper to pull.
package metrics
