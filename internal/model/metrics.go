package model

// DaemonMetrics is persisted to state/metrics.yaml after every tick.
type DaemonMetrics struct {
	SchemaVersion   int            `yaml:"schema_version" json:"schema_version"`
	FileType        string         `yaml:"file_type" json:"file_type"`
	Counters        DaemonCounters `yaml:"counters" json:"counters"`
	LastTick        *TickSummary   `yaml:"last_tick,omitempty" json:"last_tick,omitempty"`
	DaemonHeartbeat *string        `yaml:"daemon_heartbeat" json:"daemon_heartbeat"`
	UpdatedAt       *string        `yaml:"updated_at" json:"updated_at"`
}

type DaemonCounters struct {
	TicksRun          int `yaml:"ticks_run" json:"ticks_run"`
	TicksSkipped      int `yaml:"ticks_skipped" json:"ticks_skipped"`
	TicksUnconfigured int `yaml:"ticks_unconfigured" json:"ticks_unconfigured"`
	SendFailures      int `yaml:"send_failures" json:"send_failures"`
	LinesSent         int `yaml:"lines_sent" json:"lines_sent"`
	BuildEvents       int `yaml:"build_events" json:"build_events"`
}

type ExecutorCounts struct {
	Busy     int `yaml:"busy" json:"busy"`
	Idle     int `yaml:"idle" json:"idle"`
	Draining int `yaml:"draining" json:"draining"`
	Offline  int `yaml:"offline" json:"offline"`
}

func (c ExecutorCounts) Total() int {
	return c.Busy + c.Idle + c.Draining + c.Offline
}

func (c *ExecutorCounts) Add(s ExecutorState) {
	switch s {
	case ExecutorBusy:
		c.Busy++
	case ExecutorIdle:
		c.Idle++
	case ExecutorDraining:
		c.Draining++
	case ExecutorOffline:
		c.Offline++
	}
}

type TickSummary struct {
	StartedAt      string         `yaml:"started_at" json:"started_at"`
	DurationMs     int64          `yaml:"duration_ms" json:"duration_ms"`
	Configured     bool           `yaml:"configured" json:"configured"`
	QueueLength    int            `yaml:"queue_length" json:"queue_length"`
	BuildsStarted  int            `yaml:"builds_started" json:"builds_started"`
	Workers        ExecutorCounts `yaml:"workers" json:"workers"`
	Primary        ExecutorCounts `yaml:"primary" json:"primary"`
	Docker         int            `yaml:"docker" json:"docker"`
	EnsureNodeLock int            `yaml:"ensure_node_lock" json:"ensure_node_lock"`
	MetricsSent    int            `yaml:"metrics_sent" json:"metrics_sent"`
	SendError      string         `yaml:"send_error,omitempty" json:"send_error,omitempty"`
}
