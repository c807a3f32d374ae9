package daemon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/uds"
	yamlutil "github.com/msageha/cistatsd/internal/yaml"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, yamlutil.AtomicWriteRaw(path, []byte(body), 0644))
	return path
}

func configYAML(prefix string, port, scheduleSeconds int) string {
	return fmt.Sprintf(`statsd:
  prefix: %s
  host: 127.0.0.1
  port: %d
schedule:
  schedule_seconds: %d
logging:
  level: debug
`, prefix, port, scheduleSeconds)
}

type testDaemon struct {
	*Daemon
	dir    string
	client *uds.Client
	log    *bytes.Buffer
}

func startTestDaemon(t *testing.T, body string) *testDaemon {
	t.Helper()
	dir := shortTempDir(t)
	path := writeConfig(t, dir, body)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	d := newDaemon(dir, config.NewStore(path, cfg), &buf, nil)
	d.SetHostFactory(StaticHost(scenarioAHost(time.Now())))
	require.NoError(t, d.start())
	t.Cleanup(d.Shutdown)

	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	client.SetTimeout(5 * time.Second)
	return &testDaemon{Daemon: d, dir: dir, client: client, log: &buf}
}

func TestDaemon_Ping(t *testing.T) {
	td := startTestDaemon(t, configYAML("ci", 8125, 3600))

	resp, err := td.client.SendCommand("ping", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)
	var data map[string]any
	require.NoError(t, resp.DecodeData(&data))
	assert.Equal(t, "ok", data["status"])
	assert.EqualValues(t, os.Getpid(), data["pid"])
}

func TestDaemon_TickCommandEmitsScenarioA(t *testing.T) {
	pc, port := listenUDP(t)
	td := startTestDaemon(t, configYAML("ci", port, 3600))

	summary, err := td.client.Tick()
	require.NoError(t, err)
	assert.Equal(t, 14, summary.MetricsSent)
	assert.Equal(t, 5, summary.BuildsStarted)

	got := readLines(t, pc, 14)
	assert.Contains(t, got, "ci.executors.total:2|g")
	assert.Contains(t, got, "ci.executors.master.idle:1|g")
	assert.Contains(t, got, "ci.builds.started:5|g")
}

func TestDaemon_StatusReportsCounters(t *testing.T) {
	_, port := listenUDP(t)
	td := startTestDaemon(t, configYAML("ci", port, 3600))

	_, err := td.client.Tick()
	require.NoError(t, err)

	m, err := td.client.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Counters.TicksRun)
	assert.Equal(t, 14, m.Counters.LinesSent)
	require.NotNil(t, m.LastTick)
	assert.True(t, m.LastTick.Configured)
}

func TestDaemon_BuildCompletedEmitsImmediately(t *testing.T) {
	pc, port := listenUDP(t)
	td := startTestDaemon(t, configYAML("ci", port, 3600))

	require.NoError(t, td.client.BuildCompleted(uds.BuildCompletedParams{
		Job:        "My Team/Build #1",
		Result:     "SUCCESS",
		DurationMs: 4200,
	}))

	assert.Equal(t, []string{
		"ci.job.My_Team-Build_1.SUCCESS:1|c",
		"ci.job.My_Team-Build_1.SUCCESS:4200|ms",
	}, readLines(t, pc, 2))
}

func TestDaemon_BuildCompletedValidation(t *testing.T) {
	td := startTestDaemon(t, configYAML("ci", 8125, 3600))

	tests := []struct {
		name   string
		params any
	}{
		{"missing job", uds.BuildCompletedParams{Result: "SUCCESS"}},
		{"negative duration", uds.BuildCompletedParams{Job: "app", DurationMs: -1}},
		{"wrong shape", map[string]any{"job": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := td.client.SendCommand("build_completed", tt.params)
			require.NoError(t, err)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, uds.ErrCodeValidation, resp.Error.Code)
		})
	}
}

func TestDaemon_ScheduledTick(t *testing.T) {
	pc, port := listenUDP(t)
	startTestDaemon(t, configYAML("sched", port, 1))

	got := readLines(t, pc, 14)
	assert.Contains(t, got, "sched.builds.started:5|g")
}

func TestDaemon_SecondInstanceRejected(t *testing.T) {
	td := startTestDaemon(t, configYAML("ci", 8125, 3600))

	var buf bytes.Buffer
	second := newDaemon(td.dir, td.store, &buf, nil)
	err := second.start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon lock")

	resp, err := td.client.SendCommand("ping", nil)
	require.NoError(t, err, "first daemon must keep its socket")
	assert.True(t, resp.Success)
	second.cancel()
}

func TestDaemon_ConfigReload(t *testing.T) {
	td := startTestDaemon(t, configYAML("ci", 8125, 3600))

	writeConfig(t, td.dir, configYAML("next", 8125, 120))
	require.Eventually(t, func() bool {
		return td.store.Current().Statsd.Prefix == "next"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 120*time.Second, td.store.Current().Schedule.Interval())

	writeConfig(t, td.dir, "statsd:\n  port: 70000\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "next", td.store.Current().Statsd.Prefix, "invalid reload must keep previous config")
	assert.Equal(t, 8125, td.store.Current().Statsd.Port)
}

func TestDaemon_ShutdownCleansUp(t *testing.T) {
	td := startTestDaemon(t, configYAML("ci", 8125, 3600))

	td.Shutdown()
	td.Shutdown()

	_, err := os.Stat(filepath.Join(td.dir, uds.DefaultSocketName))
	assert.True(t, os.IsNotExist(err), "socket should be removed")
	_, err = os.Stat(filepath.Join(td.dir, "locks", "daemon.lock"))
	assert.True(t, os.IsNotExist(err), "lock should be released")
	_, err = os.Stat(MetricsPath(td.dir))
	assert.NoError(t, err, "state is flushed on shutdown")
	assert.True(t, strings.Contains(td.log.String(), "daemon stopped"))
}

func TestDaemon_ShutdownCommand(t *testing.T) {
	td := startTestDaemon(t, configYAML("ci", 8125, 3600))

	resp, err := td.client.SendCommand("shutdown", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	select {
	case <-td.done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}
