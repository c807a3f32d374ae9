package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/cistatsd/internal/model"
)

func TestMetricsHandler_RecordTick(t *testing.T) {
	mh := NewMetricsHandler(t.TempDir(), nil)

	mh.RecordTick(model.TickSummary{Configured: true, MetricsSent: 14})
	mh.RecordTick(model.TickSummary{Configured: false})
	mh.RecordTick(model.TickSummary{Configured: true, MetricsSent: 3, SendError: "boom"})
	mh.RecordSkipped()
	mh.RecordBuildEvent(2, false)

	m := mh.Snapshot()
	assert.Equal(t, model.DaemonCounters{
		TicksRun:          3,
		TicksSkipped:      1,
		TicksUnconfigured: 1,
		SendFailures:      1,
		LinesSent:         19,
		BuildEvents:       1,
	}, m.Counters)
	require.NotNil(t, m.LastTick)
	assert.Equal(t, "boom", m.LastTick.SendError)
}

func TestMetricsHandler_SnapshotIsACopy(t *testing.T) {
	mh := NewMetricsHandler(t.TempDir(), nil)
	mh.RecordTick(model.TickSummary{QueueLength: 1})

	snap := mh.Snapshot()
	snap.LastTick.QueueLength = 99

	assert.Equal(t, 1, mh.Snapshot().LastTick.QueueLength)
}

func TestMetricsHandler_FlushWritesState(t *testing.T) {
	dir := t.TempDir()
	mh := NewMetricsHandler(dir, nil)
	mh.RecordTick(model.TickSummary{Configured: true, MetricsSent: 14, QueueLength: 2})

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, mh.Flush(now))

	data, err := os.ReadFile(MetricsPath(dir))
	require.NoError(t, err)
	var stored model.DaemonMetrics
	require.NoError(t, yamlv3.Unmarshal(data, &stored))

	assert.Equal(t, 1, stored.SchemaVersion)
	assert.Equal(t, "state_metrics", stored.FileType)
	assert.Equal(t, 1, stored.Counters.TicksRun)
	require.NotNil(t, stored.DaemonHeartbeat)
	assert.Equal(t, "2026-01-02T03:04:05Z", *stored.DaemonHeartbeat)
	require.NotNil(t, stored.LastTick)
	assert.Equal(t, 2, stored.LastTick.QueueLength)
}

func TestMetricsHandler_LoadRestoresCounters(t *testing.T) {
	dir := t.TempDir()
	first := NewMetricsHandler(dir, nil)
	first.RecordTick(model.TickSummary{Configured: true, MetricsSent: 5})
	first.RecordBuildEvent(2, true)
	require.NoError(t, first.Flush(time.Now()))

	second := NewMetricsHandler(dir, nil)
	require.NoError(t, second.Load())
	second.RecordTick(model.TickSummary{Configured: true, MetricsSent: 5})

	c := second.Snapshot().Counters
	assert.Equal(t, 2, c.TicksRun)
	assert.Equal(t, 12, c.LinesSent)
	assert.Equal(t, 1, c.SendFailures)
	assert.Equal(t, 1, c.BuildEvents)
}

func TestMetricsHandler_LoadMissingFile(t *testing.T) {
	mh := NewMetricsHandler(t.TempDir(), nil)
	require.NoError(t, mh.Load())
	assert.Zero(t, mh.Snapshot().Counters)
}

func TestMetricsHandler_LoadQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := MetricsPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0644))

	mh := NewMetricsHandler(dir, nil)
	require.NoError(t, mh.Load())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt file should be moved away")
	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Zero(t, mh.Snapshot().Counters)
}
