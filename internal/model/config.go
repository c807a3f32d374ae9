// Package model defines the data structures for cistatsd's configuration, snapshots, metrics and state.
package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultScheduleSeconds      = 60
	DefaultBuildActivitySeconds = 60
	DefaultMaxPacketBytes       = 1432
	MaxUDPPayloadBytes          = 65507
	DefaultStatsdTimeoutMs      = 1000
	DefaultJenkinsTimeoutSec    = 10
	DefaultControllerName       = "master"
	DefaultShutdownTimeoutSec   = 30
)

type Config struct {
	Statsd   StatsdConfig   `yaml:"statsd"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Jenkins  JenkinsConfig  `yaml:"jenkins"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StatsdConfig struct {
	Prefix         string `yaml:"prefix"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxPacketBytes *int   `yaml:"max_packet_bytes,omitempty"` // nil = default, 0 = one datagram per line
	TimeoutMs      int    `yaml:"timeout_ms"`
}

type ScheduleConfig struct {
	ScheduleSeconds      int `yaml:"schedule_seconds"`
	BuildActivitySeconds int `yaml:"build_activity_seconds"`
}

type JenkinsConfig struct {
	URL            string `yaml:"url"`
	User           string `yaml:"user"`
	APIToken       string `yaml:"api_token"`
	ControllerName string `yaml:"controller_name"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	MetricsListen      string `yaml:"metrics_listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WithDefaults returns a copy of c with zero or negative values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Schedule.ScheduleSeconds <= 0 {
		c.Schedule.ScheduleSeconds = DefaultScheduleSeconds
	}
	if c.Schedule.BuildActivitySeconds <= 0 {
		c.Schedule.BuildActivitySeconds = DefaultBuildActivitySeconds
	}
	if c.Statsd.MaxPacketBytes == nil {
		n := DefaultMaxPacketBytes
		c.Statsd.MaxPacketBytes = &n
	} else {
		n := *c.Statsd.MaxPacketBytes
		c.Statsd.MaxPacketBytes = &n
	}
	if c.Statsd.TimeoutMs <= 0 {
		c.Statsd.TimeoutMs = DefaultStatsdTimeoutMs
	}
	if c.Jenkins.TimeoutSec <= 0 {
		c.Jenkins.TimeoutSec = DefaultJenkinsTimeoutSec
	}
	if c.Jenkins.ControllerName == "" {
		c.Jenkins.ControllerName = DefaultControllerName
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	return c
}

// Validate reports configuration values that can never work.
// An empty host or a zero port is not an error: it leaves the daemon unconfigured.
func (c Config) Validate() error {
	if c.Statsd.Port < 0 || c.Statsd.Port > 65535 {
		return fmt.Errorf("statsd.port must be 0-65535, got %d", c.Statsd.Port)
	}
	if c.Statsd.MaxPacketBytes != nil {
		if n := *c.Statsd.MaxPacketBytes; n < 0 || n > MaxUDPPayloadBytes {
			return fmt.Errorf("statsd.max_packet_bytes must be 0-%d, got %d", MaxUDPPayloadBytes, n)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

// Configured reports whether metrics may be emitted at all.
func (c StatsdConfig) Configured() bool {
	return strings.TrimSpace(c.Host) != "" && c.Port != 0
}

// PacketBytes is the batching limit for one datagram; 0 disables batching.
// It never exceeds the largest UDP payload.
func (c StatsdConfig) PacketBytes() int {
	if c.MaxPacketBytes == nil {
		return DefaultMaxPacketBytes
	}
	return min(*c.MaxPacketBytes, MaxUDPPayloadBytes)
}

func (c StatsdConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultStatsdTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ScheduleConfig) Interval() time.Duration {
	if c.ScheduleSeconds <= 0 {
		return DefaultScheduleSeconds * time.Second
	}
	return time.Duration(c.ScheduleSeconds) * time.Second
}

func (c ScheduleConfig) BuildActivityWindow() time.Duration {
	if c.BuildActivitySeconds <= 0 {
		return DefaultBuildActivitySeconds * time.Second
	}
	return time.Duration(c.BuildActivitySeconds) * time.Second
}
