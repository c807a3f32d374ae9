// Package aggregate turns a scheduler snapshot into the fixed statsd metric taxonomy.
package aggregate

import (
	"github.com/msageha/cistatsd/internal/model"
)

// UnnamedTaskKey replaces a task key that sanitized down to nothing.
const UnnamedTaskKey = "unnamed"

// Summary holds the per-category counts of one snapshot.
type Summary struct {
	Workers       model.ExecutorCounts
	Primary       model.ExecutorCounts
	Reasons       map[model.OfflineReason]int
	QueueLength   int
	BuildsStarted int
}

// Summarize counts executor slots by type and state, and offline slots by reason.
func Summarize(snap model.Snapshot) Summary {
	s := Summary{
		Reasons:       make(map[model.OfflineReason]int, len(model.AllOfflineReasons)),
		QueueLength:   len(snap.QueueEntries),
		BuildsStarted: snap.CompletedBuildCount,
	}
	for _, r := range model.AllOfflineReasons {
		s.Reasons[r] = 0
	}
	for _, e := range snap.Executors {
		switch e.Type {
		case model.ExecutorPrimary:
			s.Primary.Add(e.State)
		case model.ExecutorWorker:
			s.Workers.Add(e.State)
		}
		if e.State == model.ExecutorOffline && e.Reason != model.ReasonNone {
			s.Reasons[e.Reason]++
		}
	}
	return s
}

// Classify returns the metrics for snap, in emission order. Every count is a gauge;
// each queue entry adds one timing named after its task key.
func Classify(snap model.Snapshot, prefix string) []model.Metric {
	s := Summarize(snap)
	metrics := make([]model.Metric, 0, 14+len(snap.QueueEntries))
	name := func(category string) string { return model.MetricName(prefix, category) }

	metrics = append(metrics, executorGauges(name, "executors.", s.Workers)...)
	for _, r := range model.AllOfflineReasons {
		metrics = append(metrics, model.Gauge(name("executors."+r.String()), int64(s.Reasons[r])))
	}
	metrics = append(metrics, executorGauges(name, "executors.master.", s.Primary)...)
	metrics = append(metrics,
		model.Gauge(name("builds.started"), int64(s.BuildsStarted)),
		model.Gauge(name("builds.queue.length"), int64(s.QueueLength)),
	)
	for _, q := range snap.QueueEntries {
		key := q.TaskKey
		if key == "" {
			key = UnnamedTaskKey
		}
		metrics = append(metrics, model.Timing(name("builds.queue.wait_time."+key), q.WaitMillis))
	}
	return metrics
}

func executorGauges(name func(string) string, scope string, c model.ExecutorCounts) []model.Metric {
	return []model.Metric{
		model.Gauge(name(scope+"busy"), int64(c.Busy)),
		model.Gauge(name(scope+"idle"), int64(c.Idle)),
		model.Gauge(name(scope+"draining"), int64(c.Draining)),
		model.Gauge(name(scope+"offline"), int64(c.Offline)),
		model.Gauge(name(scope+"total"), int64(c.Total())),
	}
}
