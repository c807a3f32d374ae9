package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/cistatsd/internal/model"
	yamlutil "github.com/msageha/cistatsd/internal/yaml"
)

const metricsFileType = "state_metrics"

// MetricsPath is where the daemon keeps its counters and last tick summary.
func MetricsPath(baseDir string) string {
	return filepath.Join(baseDir, "state", "metrics.yaml")
}

// MetricsHandler accumulates daemon counters in memory and persists them to state/metrics.yaml.
type MetricsHandler struct {
	path          string
	quarantineDir string
	logger        *zap.Logger

	mu      sync.Mutex
	metrics model.DaemonMetrics
}

func NewMetricsHandler(baseDir string, logger *zap.Logger) *MetricsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsHandler{
		path:          MetricsPath(baseDir),
		quarantineDir: filepath.Join(baseDir, "quarantine"),
		logger:        logger,
		metrics:       newDaemonMetrics(),
	}
}

func newDaemonMetrics() model.DaemonMetrics {
	return model.DaemonMetrics{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      metricsFileType,
	}
}

// Load restores counters from a previous run. A corrupt file is quarantined and counting starts over.
func (mh *MetricsHandler) Load() error {
	var stored model.DaemonMetrics
	ok, err := yamlutil.ReadState(mh.path, metricsFileType, &stored)
	if err != nil {
		if !errors.Is(err, yamlutil.ErrCorrupt) {
			return fmt.Errorf("load metrics: %w", err)
		}
		dst, qerr := yamlutil.Quarantine(mh.quarantineDir, mh.path)
		if qerr != nil {
			return fmt.Errorf("quarantine metrics: %w", qerr)
		}
		mh.logger.Warn("quarantined corrupt metrics file", zap.String("path", dst), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	mh.mu.Lock()
	mh.metrics.Counters = stored.Counters
	mh.metrics.LastTick = stored.LastTick
	mh.mu.Unlock()
	return nil
}

func (mh *MetricsHandler) RecordTick(summary model.TickSummary) {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	c := &mh.metrics.Counters
	c.TicksRun++
	if !summary.Configured {
		c.TicksUnconfigured++
	}
	if summary.SendError != "" {
		c.SendFailures++
	}
	c.LinesSent += summary.MetricsSent
	mh.metrics.LastTick = &summary
}

func (mh *MetricsHandler) RecordSkipped() {
	mh.mu.Lock()
	mh.metrics.Counters.TicksSkipped++
	mh.mu.Unlock()
}

func (mh *MetricsHandler) RecordBuildEvent(lines int, sendFailed bool) {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	mh.metrics.Counters.BuildEvents++
	mh.metrics.Counters.LinesSent += lines
	if sendFailed {
		mh.metrics.Counters.SendFailures++
	}
}

// Snapshot returns a copy that is safe to read while ticks keep running.
func (mh *MetricsHandler) Snapshot() model.DaemonMetrics {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	out := mh.metrics
	if out.LastTick != nil {
		lt := *out.LastTick
		out.LastTick = &lt
	}
	if out.DaemonHeartbeat != nil {
		hb := *out.DaemonHeartbeat
		out.DaemonHeartbeat = &hb
	}
	if out.UpdatedAt != nil {
		u := *out.UpdatedAt
		out.UpdatedAt = &u
	}
	return out
}

// Flush stamps the heartbeat and writes the file atomically.
func (mh *MetricsHandler) Flush(now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	mh.mu.Lock()
	mh.metrics.DaemonHeartbeat = &ts
	mh.metrics.UpdatedAt = &ts
	mh.mu.Unlock()

	if err := yamlutil.AtomicWrite(mh.path, mh.Snapshot()); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
