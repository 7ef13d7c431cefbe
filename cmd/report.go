package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/anvall/lbsim/config"
	"github.com/anvall/lbsim/internal/topology"
)

func report(log *slog.Logger, cfg *config.Config, res topology.Results) {
	log.Info("latency results",
		slog.Int("responses", res.Responses),
		slog.String("min", fmtMs(res.Summary.Min)),
		slog.String("avg", fmtMs(res.Summary.Mean)),
		slog.String("p50", fmtMs(res.Summary.P50)),
		slog.String("p75", fmtMs(res.Summary.P75)),
		slog.String("p90", fmtMs(res.Summary.P90)),
		slog.String("p95", fmtMs(res.Summary.P95)),
		slog.String("p99", fmtMs(res.Summary.P99)),
		slog.String("max", fmtMs(res.Summary.Max)),
		slog.String("stddev", fmtMs(res.Summary.StdDev)),
	)

	for _, addr := range res.Distribution.Addrs {
		log.Info("backend distribution",
			slog.String("backend", addr),
			slog.Uint64("requests", res.Distribution.Counts[addr]),
			slog.String("share", fmt.Sprintf("%.1f%%", 100*res.Distribution.Share(addr))),
		)
	}

	total := res.Distribution.Total()
	log.Info("run totals",
		slog.String("algorithm", cfg.Strategy.Algorithm),
		slog.Int("requests_sent", res.RequestsSent),
		slog.Uint64("requests_served", total),
		slog.Uint64("dropped", res.ProxyStats.Dropped),
	)

	if res.RequestsSent > 0 && total != uint64(res.RequestsSent) {
		log.Warn("client and server counts differ, some requests were lost to drops or shutdown",
			slog.Int("sent", res.RequestsSent),
			slog.Uint64("served", total))
	}
	if res.ActiveTotal != 0 {
		log.Warn("in-flight accounting did not settle to zero",
			slog.Uint64("active_total", res.ActiveTotal))
	}
}

func fmtMs(d time.Duration) string {
	return fmt.Sprintf("%.4fms", float64(d)/float64(time.Millisecond))
}
