// Package metrics records finished executions.
//
// A Collector exports Prometheus counters and histograms. A Store keeps one
// row per execution, either in SQLite through gorm or in a bounded in-memory
// ring, and answers Summary queries. Recorder ties both to the executor by
// implementing code.Recorder.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	store, _ := metrics.OpenStore("logs/metrics.db", logger)
//	rec := metrics.NewRecorder(metrics.NewCollector(reg), store, logger)
//	exec, _ := code.NewDefaultExecutor(code.Config{..., Recorder: rec})
package metrics
