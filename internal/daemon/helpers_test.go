package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/statsd"
)

// listenUDP starts a loopback statsd stand-in and returns its port.
func listenUDP(t *testing.T) (net.PacketConn, int) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc, pc.LocalAddr().(*net.UDPAddr).Port
}

// readLines collects lines until want arrived or the deadline passes.
func readLines(t *testing.T, pc net.PacketConn, want int) []string {
	t.Helper()
	var lines []string
	buf := make([]byte, 65536)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(lines) < want {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			break
		}
		lines = append(lines, strings.Split(string(buf[:n]), "\n")...)
	}
	return lines
}

// expectSilence fails if any datagram arrives within d.
func expectSilence(t *testing.T, pc net.PacketConn, d time.Duration) {
	t.Helper()
	buf := make([]byte, 65536)
	_ = pc.SetReadDeadline(time.Now().Add(d))
	if n, _, err := pc.ReadFrom(buf); err == nil {
		t.Fatalf("unexpected datagram %q", buf[:n])
	}
}

type sendCall struct {
	target  statsd.Target
	metrics []model.Metric
}

type recordingSender struct {
	mu     sync.Mutex
	calls  []sendCall
	result statsd.Result
}

func (s *recordingSender) Send(_ context.Context, target statsd.Target, metrics []model.Metric) statsd.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{target: target, metrics: metrics})
	res := s.result
	if res.Err == nil {
		res.Lines = len(metrics)
	}
	return res
}

func (s *recordingSender) Calls() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendCall(nil), s.calls...)
}

func newStore(t *testing.T, cfg model.Config) *config.Store {
	t.Helper()
	return config.NewStore(filepath.Join(t.TempDir(), config.FileName), cfg)
}

func statsdConfig(prefix string, port int) model.StatsdConfig {
	return model.StatsdConfig{Prefix: prefix, Host: "127.0.0.1", Port: port}
}

// shortTempDir keeps the control socket path within the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "cs-d-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

