package daemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/cistatsd/internal/aggregate"
	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/events"
	"github.com/msageha/cistatsd/internal/jenkins"
	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/sampler"
	"github.com/msageha/cistatsd/internal/statsd"
)

// HostFactory returns the host to sample for the given configuration.
type HostFactory func(cfg model.Config) (sampler.Host, error)

// JenkinsHosts builds a Jenkins client and keeps it until the jenkins section changes.
func JenkinsHosts() HostFactory {
	var (
		mu     sync.Mutex
		last   model.JenkinsConfig
		client *jenkins.Client
	)
	return func(cfg model.Config) (sampler.Host, error) {
		mu.Lock()
		defer mu.Unlock()
		if client != nil && cfg.Jenkins == last {
			return client, nil
		}
		c, err := jenkins.NewClient(cfg.Jenkins)
		if err != nil {
			return nil, err
		}
		client, last = c, cfg.Jenkins
		return client, nil
	}
}

// StaticHost always returns h.
func StaticHost(h sampler.Host) HostFactory {
	return func(model.Config) (sampler.Host, error) { return h, nil }
}

// emptyHost stands in when no host can be built; every category samples as zero.
type emptyHost struct{}

func (emptyHost) QueuedItems(context.Context) ([]sampler.QueuedItem, error) {
	return nil, nil
}
func (emptyHost) ComputeNodes(context.Context) ([]sampler.ComputeNode, error) {
	return nil, nil
}
func (emptyHost) ExecutorSlots(context.Context, sampler.ComputeNode) ([]sampler.Slot, error) {
	return nil, nil
}
func (emptyHost) CompletedBuilds(context.Context, time.Time, time.Time) (int, error) {
	return 0, nil
}

// Pipeline is one sample, classify and send pass.
type Pipeline struct {
	store   *config.Store
	hosts   HostFactory
	sender  statsd.Sender
	metrics *MetricsHandler
	bus     *events.Bus
	logger  *zap.Logger
	now     func() time.Time
}

func NewPipeline(store *config.Store, hosts HostFactory, sender statsd.Sender, metrics *MetricsHandler, bus *events.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:   store,
		hosts:   hosts,
		sender:  sender,
		metrics: metrics,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Tick samples the host and emits the result. It never returns an error: a
// failing host yields zeros and a failing send is recorded in the summary.
func (p *Pipeline) Tick(ctx context.Context) model.TickSummary {
	start := p.now()
	cfg := p.store.Current()

	host, err := p.hosts(cfg)
	if err != nil {
		p.logger.Warn("no host to sample", zap.Error(err))
		host = emptyHost{}
	}
	snap := sampler.New(host, cfg.Jenkins.ControllerName, p.logger.Named("sampler")).
		Sample(ctx, start, cfg.Schedule.BuildActivityWindow())
	sum := aggregate.Summarize(snap)

	p.logger.Info("sampled",
		zap.Int("executors_busy", sum.Workers.Busy),
		zap.Int("executors_idle", sum.Workers.Idle),
		zap.Int("executors_draining", sum.Workers.Draining),
		zap.Int("executors_offline", sum.Workers.Offline),
		zap.Int("executors_total", sum.Workers.Total()),
		zap.Int("docker", sum.Reasons[model.ReasonAgentContainerReclaim]),
		zap.Int("ensure_node_lock", sum.Reasons[model.ReasonLockContention]),
		zap.Int("master_busy", sum.Primary.Busy),
		zap.Int("master_idle", sum.Primary.Idle),
		zap.Int("master_total", sum.Primary.Total()),
		zap.Int("builds_started", sum.BuildsStarted),
		zap.Int("queue_length", sum.QueueLength),
	)

	summary := model.TickSummary{
		StartedAt:      start.UTC().Format(time.RFC3339),
		Configured:     cfg.Statsd.Configured(),
		QueueLength:    sum.QueueLength,
		BuildsStarted:  sum.BuildsStarted,
		Workers:        sum.Workers,
		Primary:        sum.Primary,
		Docker:         sum.Reasons[model.ReasonAgentContainerReclaim],
		EnsureNodeLock: sum.Reasons[model.ReasonLockContention],
	}

	var sendErr error
	if !summary.Configured {
		p.logger.Warn("statsd not configured, skipping emission",
			zap.String("host", cfg.Statsd.Host), zap.Int("port", cfg.Statsd.Port))
	} else {
		metrics := aggregate.Classify(snap, cfg.Statsd.Prefix)
		res := p.sender.Send(ctx, statsd.TargetFromConfig(cfg.Statsd), metrics)
		summary.MetricsSent = res.Lines
		if res.Err != nil {
			sendErr = res.Err
			summary.SendError = res.Err.Error()
			p.logger.Warn("statsd send failed", zap.Int("lines", res.Lines), zap.Int("metrics", len(metrics)), zap.Error(res.Err))
		}
	}

	elapsed := p.now().Sub(start)
	summary.DurationMs = elapsed.Milliseconds()

	if p.metrics != nil {
		p.metrics.RecordTick(summary)
		if err := p.metrics.Flush(p.now()); err != nil {
			p.logger.Warn("persist tick state", zap.Error(err))
		}
	}
	if p.bus != nil {
		p.bus.Publish(events.EventTickCompleted, events.TickCompleted{
			StartedAt:  start,
			Duration:   elapsed,
			Configured: summary.Configured,
			Lines:      summary.MetricsSent,
			SendErr:    sendErr,
		})
	}
	return summary
}

