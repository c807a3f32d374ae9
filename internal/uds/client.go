package uds

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/msageha/cistatsd/internal/model"
)

// Commands understood by the daemon.
const (
	CmdPing           = "ping"
	CmdTick           = "tick"
	CmdStatus         = "status"
	CmdBuildCompleted = "build_completed"
	CmdShutdown       = "shutdown"
)

const DefaultClientTimeout = 30 * time.Second

// BuildCompletedParams is the payload of the build_completed command.
type BuildCompletedParams struct {
	Job        string `json:"job"`
	Result     string `json:"result"`
	DurationMs int64  `json:"duration_ms"`
}

// PingReply is what a live daemon answers to ping.
type PingReply struct {
	Status string `json:"status"`
	Pid    int    `json:"pid"`
}

// Client talks to the daemon owning one .cistatsd directory.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    DefaultClientTimeout,
	}
}

// ClientFor returns a client for the socket inside baseDir.
func ClientFor(baseDir string) *Client {
	return NewClient(filepath.Join(baseDir, DefaultSocketName))
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Send performs one request/response exchange on a fresh connection.
func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to cistatsd daemon at %s: %w (start it with: cistatsd daemon)", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return &resp, nil
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

// Call sends command and decodes the reply into out, which may be nil.
// A rejection by the daemon comes back as *ErrorDetail.
func (c *Client) Call(command string, params, out any) error {
	resp, err := c.SendCommand(command, params)
	if err != nil {
		return err
	}
	return resp.DecodeData(out)
}

func (c *Client) Ping() (PingReply, error) {
	var r PingReply
	err := c.Call(CmdPing, nil, &r)
	return r, err
}

// Tick asks for an immediate tick and returns its summary. It fails with
// ErrCodeBusy when a tick was already running.
func (c *Client) Tick() (model.TickSummary, error) {
	var s model.TickSummary
	err := c.Call(CmdTick, nil, &s)
	return s, err
}

func (c *Client) Status() (model.DaemonMetrics, error) {
	var m model.DaemonMetrics
	err := c.Call(CmdStatus, nil, &m)
	return m, err
}

// BuildCompleted reports a finished build. Obviously invalid events are
// refused locally without a round trip.
func (c *Client) BuildCompleted(p BuildCompletedParams) error {
	if p.Job == "" {
		return &ErrorDetail{Code: ErrCodeValidation, Message: "job is required"}
	}
	if p.DurationMs < 0 {
		return &ErrorDetail{Code: ErrCodeValidation, Message: fmt.Sprintf("duration_ms must not be negative, got %d", p.DurationMs)}
	}
	return c.Call(CmdBuildCompleted, p, nil)
}

func (c *Client) Shutdown() error {
	return c.Call(CmdShutdown, nil, nil)
}

// IsBusy reports whether err is the daemon refusing work because a tick is running.
func IsBusy(err error) bool {
	var d *ErrorDetail
	return errors.As(err, &d) && d.Code == ErrCodeBusy
}
