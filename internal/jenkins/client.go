// Package jenkins implements sampler.Host against the Jenkins JSON remote access API.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/sampler"
)

const (
	queuePath    = "/queue/api/json?tree=items[inQueueSince,task[name]]"
	computerPath = "/computer/api/json?tree=computer[displayName,offline,offlineCauseReason,executors[idle]]"
	// Folders are followed three levels deep.
	buildsPath = "/view/all/api/json?tree=jobs[builds[timestamp],jobs[builds[timestamp],jobs[builds[timestamp]]]]"

	maxResponseBytes = 32 << 20
)

type queueResponse struct {
	Items []struct {
		InQueueSince int64 `json:"inQueueSince"`
		Task         struct {
			Name string `json:"name"`
		} `json:"task"`
	} `json:"items"`
}

type computerResponse struct {
	Computer []struct {
		DisplayName        string `json:"displayName"`
		Offline            bool   `json:"offline"`
		OfflineCauseReason string `json:"offlineCauseReason"`
		Executors          []struct {
			Idle bool `json:"idle"`
		} `json:"executors"`
	} `json:"computer"`
}

type jobNode struct {
	Builds []struct {
		Timestamp int64 `json:"timestamp"`
	} `json:"builds"`
	Jobs []jobNode `json:"jobs"`
}

// Client talks to one Jenkins controller. Executor slots are served from the
// response of the most recent ComputeNodes call, so both belong to the same read.
type Client struct {
	baseURL    string
	user       string
	token      string
	httpClient *http.Client

	mu    sync.Mutex
	slots map[string][]sampler.Slot
}

func NewClient(cfg model.JenkinsConfig) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, fmt.Errorf("jenkins.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jenkins.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("jenkins.url must be http or https, got %q", u.Scheme)
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = model.DefaultJenkinsTimeoutSec * time.Second
	}
	return &Client{
		baseURL:    raw,
		user:       cfg.User,
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		slots:      make(map[string][]sampler.Slot),
	}, nil
}

func (c *Client) QueuedItems(ctx context.Context) ([]sampler.QueuedItem, error) {
	var resp queueResponse
	if err := c.getJSON(ctx, queuePath, &resp); err != nil {
		return nil, err
	}
	items := make([]sampler.QueuedItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, sampler.QueuedItem{
			TaskName:   it.Task.Name,
			EnqueuedAt: time.UnixMilli(it.InQueueSince),
		})
	}
	return items, nil
}

func (c *Client) ComputeNodes(ctx context.Context) ([]sampler.ComputeNode, error) {
	var resp computerResponse
	if err := c.getJSON(ctx, computerPath, &resp); err != nil {
		return nil, err
	}
	nodes := make([]sampler.ComputeNode, 0, len(resp.Computer))
	slots := make(map[string][]sampler.Slot, len(resp.Computer))
	for _, comp := range resp.Computer {
		nodes = append(nodes, sampler.ComputeNode{
			DisplayName:  comp.DisplayName,
			Reachable:    !comp.Offline,
			OfflineCause: comp.OfflineCauseReason,
		})
		s := make([]sampler.Slot, 0, len(comp.Executors))
		for _, e := range comp.Executors {
			s = append(s, sampler.Slot{Busy: !e.Idle})
		}
		slots[comp.DisplayName] = s
	}
	c.mu.Lock()
	c.slots = slots
	c.mu.Unlock()
	return nodes, nil
}

func (c *Client) ExecutorSlots(_ context.Context, node sampler.ComputeNode) ([]sampler.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[node.DisplayName], nil
}

func (c *Client) CompletedBuilds(ctx context.Context, from, to time.Time) (int, error) {
	var root jobNode
	if err := c.getJSON(ctx, buildsPath, &root); err != nil {
		return 0, err
	}
	return countBuilds(root, from.UnixMilli(), to.UnixMilli()), nil
}

func countBuilds(n jobNode, from, to int64) int {
	count := 0
	for _, b := range n.Builds {
		if b.Timestamp >= from && b.Timestamp <= to {
			count++
		}
	}
	for _, child := range n.Jobs {
		count += countBuilds(child, from, to)
	}
	return count
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jenkins request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("jenkins request %s: unexpected status %s", req.URL.Path, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
