// Package metrics aggregates the measurements a simulation run produces:
// latency summaries with interpolated percentiles, and the per-backend
// request distribution.
package metrics
