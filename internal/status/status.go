// Package status reports whether the daemon is running and what its last tick did.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/daemon"
	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/uds"
	yamlutil "github.com/msageha/cistatsd/internal/yaml"
)

type Report struct {
	Daemon DaemonStatus         `json:"daemon"`
	Statsd StatsdStatus         `json:"statsd"`
	State  *model.DaemonMetrics `json:"state,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	Pid     int  `json:"pid,omitempty"`
}

type StatsdStatus struct {
	Configured  bool   `json:"configured"`
	Target      string `json:"target,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	IntervalSec int    `json:"interval_sec"`
	ConfigError string `json:"config_error,omitempty"`
}

// Run collects the report for baseDir and writes it to w.
func Run(baseDir string, jsonOutput bool, w io.Writer) error {
	report := Collect(baseDir)

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(w, report)
	return nil
}

// Collect asks a running daemon first and falls back to the files it leaves behind.
func Collect(baseDir string) Report {
	var r Report

	client := uds.ClientFor(baseDir)
	client.SetTimeout(3 * time.Second)
	r.Daemon = checkDaemon(client)

	if r.Daemon.Running {
		if m, err := client.Status(); err == nil {
			r.State = &m
		}
	}
	if r.State == nil {
		var m model.DaemonMetrics
		if ok, err := yamlutil.ReadState(daemon.MetricsPath(baseDir), "state_metrics", &m); ok && err == nil {
			r.State = &m
		}
	}

	cfg, err := config.Load(filepath.Join(baseDir, config.FileName))
	if err != nil {
		r.Statsd.ConfigError = err.Error()
		return r
	}
	r.Statsd = StatsdStatus{
		Configured:  cfg.Statsd.Configured(),
		Prefix:      cfg.Statsd.Prefix,
		IntervalSec: cfg.Schedule.ScheduleSeconds,
	}
	if r.Statsd.Configured {
		r.Statsd.Target = fmt.Sprintf("%s:%d", cfg.Statsd.Host, cfg.Statsd.Port)
	}
	return r
}

func checkDaemon(client *uds.Client) DaemonStatus {
	ping, err := client.Ping()
	if err != nil {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, Pid: ping.Pid}
}

func printReport(w io.Writer, r Report) {
	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.Pid)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}

	switch {
	case r.Statsd.ConfigError != "":
		fmt.Fprintf(w, "Statsd: config error: %s\n", r.Statsd.ConfigError)
	case r.Statsd.Configured:
		fmt.Fprintf(w, "Statsd: %s prefix=%q every %ds\n", r.Statsd.Target, r.Statsd.Prefix, r.Statsd.IntervalSec)
	default:
		fmt.Fprintln(w, "Statsd: not configured (set statsd.host and statsd.port)")
	}

	if r.State == nil {
		fmt.Fprintln(w, "\nNo ticks recorded yet")
		return
	}
	c := r.State.Counters
	fmt.Fprintln(w, "\nCounters:")
	fmt.Fprintf(w, "  %-20s %d\n", "ticks", c.TicksRun)
	fmt.Fprintf(w, "  %-20s %d\n", "ticks skipped", c.TicksSkipped)
	fmt.Fprintf(w, "  %-20s %d\n", "ticks unconfigured", c.TicksUnconfigured)
	fmt.Fprintf(w, "  %-20s %d\n", "send failures", c.SendFailures)
	fmt.Fprintf(w, "  %-20s %d\n", "lines sent", c.LinesSent)
	fmt.Fprintf(w, "  %-20s %d\n", "build events", c.BuildEvents)

	lt := r.State.LastTick
	if lt == nil {
		return
	}
	fmt.Fprintf(w, "\nLast tick: %s (%dms)\n", lt.StartedAt, lt.DurationMs)
	fmt.Fprintf(w, "  %-9s %7s %7s %9s %8s %6s\n", "SCOPE", "BUSY", "IDLE", "DRAINING", "OFFLINE", "TOTAL")
	for _, row := range []struct {
		name string
		c    model.ExecutorCounts
	}{{"workers", lt.Workers}, {"master", lt.Primary}} {
		fmt.Fprintf(w, "  %-9s %7d %7d %9d %8d %6d\n", row.name, row.c.Busy, row.c.Idle, row.c.Draining, row.c.Offline, row.c.Total())
	}
	fmt.Fprintf(w, "  queue=%d builds_started=%d docker=%d ensure_node_lock=%d sent=%d\n",
		lt.QueueLength, lt.BuildsStarted, lt.Docker, lt.EnsureNodeLock, lt.MetricsSent)
	if lt.SendError != "" {
		fmt.Fprintf(w, "  send error: %s\n", lt.SendError)
	}
}
