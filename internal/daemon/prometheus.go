package daemon

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes the daemon's own counters. Values are read from the
// MetricsHandler at scrape time.
type Collector struct {
	mh *MetricsHandler

	ticks             *prometheus.Desc
	ticksSkipped      *prometheus.Desc
	ticksUnconfigured *prometheus.Desc
	sendFailures      *prometheus.Desc
	linesSent         *prometheus.Desc
	buildEvents       *prometheus.Desc
	lastTickDuration  *prometheus.Desc
}

func NewPrometheusCollector(mh *MetricsHandler) *Collector {
	return &Collector{
		mh:                mh,
		ticks:             prometheus.NewDesc("cistatsd_ticks_total", "Sampling ticks run", nil, nil),
		ticksSkipped:      prometheus.NewDesc("cistatsd_ticks_skipped_total", "Ticks dropped because one was already running", nil, nil),
		ticksUnconfigured: prometheus.NewDesc("cistatsd_ticks_unconfigured_total", "Ticks that skipped emission for lack of a statsd target", nil, nil),
		sendFailures:      prometheus.NewDesc("cistatsd_send_failures_total", "Sends with at least one failed write", nil, nil),
		linesSent:         prometheus.NewDesc("cistatsd_lines_sent_total", "Metric lines written to statsd", nil, nil),
		buildEvents:       prometheus.NewDesc("cistatsd_build_events_total", "Build completion events received", nil, nil),
		lastTickDuration:  prometheus.NewDesc("cistatsd_last_tick_duration_seconds", "Wall time of the most recent tick", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticks
	ch <- c.ticksSkipped
	ch <- c.ticksUnconfigured
	ch <- c.sendFailures
	ch <- c.linesSent
	ch <- c.buildEvents
	ch <- c.lastTickDuration
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.mh.Snapshot()
	counter := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.ticks, m.Counters.TicksRun)
	counter(c.ticksSkipped, m.Counters.TicksSkipped)
	counter(c.ticksUnconfigured, m.Counters.TicksUnconfigured)
	counter(c.sendFailures, m.Counters.SendFailures)
	counter(c.linesSent, m.Counters.LinesSent)
	counter(c.buildEvents, m.Counters.BuildEvents)

	var last float64
	if m.LastTick != nil {
		last = (time.Duration(m.LastTick.DurationMs) * time.Millisecond).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.lastTickDuration, prometheus.GaugeValue, last)
}

// metricsServer serves /metrics from its own registry, so only daemon metrics are exposed.
type metricsServer struct {
	srv *http.Server
	ln  net.Listener
}

func newMetricsServer(addr string, mh *MetricsHandler) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPrometheusCollector(mh)); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &metricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}, nil
}

func (m *metricsServer) Addr() string {
	return m.ln.Addr().String()
}

// serve blocks until the server is shut down.
func (m *metricsServer) serve() error {
	if err := m.srv.Serve(m.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
