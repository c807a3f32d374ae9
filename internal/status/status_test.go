package status

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/daemon"
	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/uds"
)

func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "cs-st-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

const stateFile = `schema_version: 1
file_type: state_metrics
counters:
  ticks_run: 7
  lines_sent: 98
last_tick:
  started_at: "2026-01-02T03:04:05Z"
  duration_ms: 12
  configured: true
  queue_length: 2
  workers: {busy: 1, idle: 1}
  primary: {idle: 1}
`

func TestCollect_StoppedDaemonReadsStateFile(t *testing.T) {
	dir := shortTempDir(t)
	writeFile(t, filepath.Join(dir, config.FileName), "statsd:\n  host: statsd.local\n  port: 8125\n  prefix: ci\n")
	writeFile(t, daemon.MetricsPath(dir), stateFile)

	r := Collect(dir)

	if r.Daemon.Running {
		t.Error("daemon should be reported stopped")
	}
	if !r.Statsd.Configured || r.Statsd.Target != "statsd.local:8125" {
		t.Errorf("statsd = %+v", r.Statsd)
	}
	if r.Statsd.IntervalSec != model.DefaultScheduleSeconds {
		t.Errorf("interval: got %d, want %d", r.Statsd.IntervalSec, model.DefaultScheduleSeconds)
	}
	if r.State == nil || r.State.Counters.TicksRun != 7 {
		t.Fatalf("state = %+v", r.State)
	}
	if r.State.LastTick.Workers.Total() != 2 {
		t.Errorf("workers total: got %d, want 2", r.State.LastTick.Workers.Total())
	}
}

func TestCollect_Unconfigured(t *testing.T) {
	dir := shortTempDir(t)
	writeFile(t, filepath.Join(dir, config.FileName), "statsd:\n  host: \"\"\n  port: 8125\n")

	r := Collect(dir)

	if r.Statsd.Configured || r.Statsd.Target != "" {
		t.Errorf("statsd = %+v, want unconfigured", r.Statsd)
	}
	if r.State != nil {
		t.Errorf("state should be nil without a state file")
	}
}

func TestCollect_ConfigError(t *testing.T) {
	dir := shortTempDir(t)
	writeFile(t, filepath.Join(dir, config.FileName), "statsd:\n  port: 99999\n")

	r := Collect(dir)

	if !strings.Contains(r.Statsd.ConfigError, "statsd.port") {
		t.Errorf("config error = %q", r.Statsd.ConfigError)
	}
}

func TestCollect_RunningDaemon(t *testing.T) {
	dir := shortTempDir(t)
	writeFile(t, filepath.Join(dir, config.FileName), "statsd:\n  host: 127.0.0.1\n  port: 8125\n")

	server := uds.NewServer(filepath.Join(dir, uds.DefaultSocketName), nil)
	server.Handle("ping", func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": 4242})
	})
	server.Handle("status", func(*uds.Request) *uds.Response {
		return uds.SuccessResponse(model.DaemonMetrics{Counters: model.DaemonCounters{TicksRun: 3}})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer server.Stop()

	r := Collect(dir)

	if !r.Daemon.Running || r.Daemon.Pid != 4242 {
		t.Errorf("daemon = %+v", r.Daemon)
	}
	if r.State == nil || r.State.Counters.TicksRun != 3 {
		t.Errorf("state = %+v, want live counters", r.State)
	}
}

func TestRun_TextAndJSON(t *testing.T) {
	dir := shortTempDir(t)
	writeFile(t, filepath.Join(dir, config.FileName), "statsd:\n  host: statsd.local\n  port: 8125\n  prefix: ci\n")
	writeFile(t, daemon.MetricsPath(dir), stateFile)

	var text bytes.Buffer
	if err := Run(dir, false, &text); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"Daemon: stopped", "statsd.local:8125", "lines sent", "workers"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text output missing %q:\n%s", want, text.String())
		}
	}

	var out bytes.Buffer
	if err := Run(dir, true, &out); err != nil {
		t.Fatalf("Run json: %v", err)
	}
	var r Report
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if r.State == nil || r.State.Counters.LinesSent != 98 {
		t.Errorf("json state = %+v", r.State)
	}
}

func TestRun_NoState(t *testing.T) {
	dir := shortTempDir(t)
	var buf bytes.Buffer
	deadline := time.Now().Add(5 * time.Second)
	if err := Run(dir, false, &buf); err != nil {
		t.Fatal(err)
	}
	if time.Now().After(deadline) {
		t.Error("status should not hang without a daemon")
	}
	if !strings.Contains(buf.String(), "No ticks recorded yet") {
		t.Errorf("output = %q", buf.String())
	}
}
