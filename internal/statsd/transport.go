package statsd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/msageha/cistatsd/internal/model"
)

// Target is where and how one Send delivers its metrics.
type Target struct {
	Host           string
	Port           int
	MaxPacketBytes int
	Timeout        time.Duration
}

func TargetFromConfig(c model.StatsdConfig) Target {
	return Target{
		Host:           c.Host,
		Port:           c.Port,
		MaxPacketBytes: c.PacketBytes(),
		Timeout:        c.Timeout(),
	}
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Result reports what one Send managed to write. Err aggregates every failure;
// it is informational only.
type Result struct {
	Lines   int
	Packets int
	Err     error
}

// Sender is the interface the tick pipeline and build listener emit through.
type Sender interface {
	Send(ctx context.Context, target Target, metrics []model.Metric) Result
}

// Transport is a fire-and-forget UDP statsd client. Each Send opens its own socket,
// so a changed host or port takes effect on the next call. Failures are only
// logged at debug level; callers report them from Result.Err.
type Transport struct {
	logger *zap.Logger
}

func NewTransport(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{logger: logger}
}

func (t *Transport) Send(ctx context.Context, target Target, metrics []model.Metric) Result {
	if len(metrics) == 0 {
		return Result{}
	}
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = model.DefaultStatsdTimeoutMs * time.Millisecond
	}
	addr := target.Addr()

	// Name resolution happens inside DialContext and is bounded by the same deadline.
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "udp", addr)
	if err != nil {
		err = fmt.Errorf("dial statsd %s: %w", addr, err)
		t.logger.Debug("statsd dial failed", zap.String("addr", addr), zap.Error(err))
		return Result{Err: err}
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))

	var (
		res  Result
		errs *multierror.Error
	)
	for _, p := range batch(metrics, target.MaxPacketBytes) {
		if _, err := conn.Write(p.data); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("write %d lines: %w", p.lines, err))
			continue
		}
		res.Packets++
		res.Lines += p.lines
	}
	res.Err = errs.ErrorOrNil()
	if res.Err != nil {
		t.logger.Debug("statsd send incomplete",
			zap.String("addr", addr),
			zap.Int("lines_sent", res.Lines),
			zap.Int("lines_total", len(metrics)),
			zap.Error(res.Err))
	} else {
		t.logger.Debug("statsd send", zap.String("addr", addr), zap.Int("lines", res.Lines), zap.Int("packets", res.Packets))
	}
	return res
}
