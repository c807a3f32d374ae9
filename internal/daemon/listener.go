package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/cistatsd/internal/aggregate"
	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/events"
	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/statsd"
)

// UnknownResult labels a build that reported no result.
const UnknownResult = "UNKNOWN"

// BuildListener emits a counter and a timing for every completed build, as soon
// as the event arrives.
type BuildListener struct {
	store   *config.Store
	sender  statsd.Sender
	metrics *MetricsHandler
	logger  *zap.Logger
}

func NewBuildListener(store *config.Store, sender statsd.Sender, metrics *MetricsHandler, logger *zap.Logger) *BuildListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuildListener{store: store, sender: sender, metrics: metrics, logger: logger}
}

// BuildMetrics returns the two metrics a completed build is reported as.
func BuildMetrics(prefix string, ev events.BuildCompleted) []model.Metric {
	job := statsd.Sanitize(ev.JobFullName)
	if job == "" {
		job = aggregate.UnnamedTaskKey
	}
	result := statsd.Sanitize(ev.Result)
	if result == "" {
		result = UnknownResult
	}
	name := model.MetricName(prefix, "job."+job+"."+result)
	return []model.Metric{
		model.Counter(name, 1),
		model.Timing(name, ev.Duration.Milliseconds()),
	}
}

func (l *BuildListener) OnCompleted(ctx context.Context, ev events.BuildCompleted) statsd.Result {
	cfg := l.store.Current()
	if !cfg.Statsd.Configured() {
		l.logger.Warn("statsd not configured, dropping build event", zap.String("job", ev.JobFullName))
		if l.metrics != nil {
			l.metrics.RecordBuildEvent(0, false)
		}
		return statsd.Result{}
	}

	res := l.sender.Send(ctx, statsd.TargetFromConfig(cfg.Statsd), BuildMetrics(cfg.Statsd.Prefix, ev))
	if res.Err != nil {
		l.logger.Warn("statsd send failed", zap.String("job", ev.JobFullName), zap.Error(res.Err))
	} else {
		l.logger.Debug("build reported",
			zap.String("job", ev.JobFullName),
			zap.String("result", ev.Result),
			zap.Duration("duration", ev.Duration))
	}
	if l.metrics != nil {
		l.metrics.RecordBuildEvent(res.Lines, res.Err != nil)
	}
	return res
}

// Subscribe delivers build events from bus until the returned func is called or the bus closes.
func (l *BuildListener) Subscribe(ctx context.Context, bus *events.Bus) func() {
	return bus.Subscribe(events.EventBuildCompleted, func(e events.Event) {
		ev, ok := e.Data.(events.BuildCompleted)
		if !ok {
			l.logger.Error("unexpected build event payload", zap.Any("data", e.Data))
			return
		}
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.store.Current().Statsd.Timeout()+time.Second)
		defer cancel()
		l.OnCompleted(sendCtx, ev)
	})
}
