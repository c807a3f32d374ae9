// Package fake provides an in-memory sampler.Host for tests and dry runs.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/msageha/cistatsd/internal/sampler"
)

type Node struct {
	sampler.ComputeNode
	Slots []sampler.Slot
}

// Host serves whatever state was last set on it. Errors set on it are returned by
// the matching query. It is safe for concurrent use.
type Host struct {
	mu            sync.Mutex
	queue         []sampler.QueuedItem
	nodes         []Node
	buildTimes    []time.Time
	QueueErr      error
	NodesErr      error
	SlotsErr      map[string]error
	BuildsErr     error
	OnQuery       func()
	nodeQueryHits int
}

func NewHost() *Host {
	return &Host{SlotsErr: map[string]error{}}
}

func (h *Host) SetQueue(items ...sampler.QueuedItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append([]sampler.QueuedItem(nil), items...)
}

func (h *Host) SetNodes(nodes ...Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = append([]Node(nil), nodes...)
}

// SetBuilds records the start times of builds the host knows about.
func (h *Host) SetBuilds(times ...time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buildTimes = append([]time.Time(nil), times...)
}

// NodeQueries reports how many times ComputeNodes was called.
func (h *Host) NodeQueries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodeQueryHits
}

func (h *Host) hook() {
	if h.OnQuery != nil {
		h.OnQuery()
	}
}

func (h *Host) QueuedItems(_ context.Context) ([]sampler.QueuedItem, error) {
	h.hook()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.QueueErr != nil {
		return nil, h.QueueErr
	}
	return append([]sampler.QueuedItem(nil), h.queue...), nil
}

func (h *Host) ComputeNodes(_ context.Context) ([]sampler.ComputeNode, error) {
	h.hook()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodeQueryHits++
	if h.NodesErr != nil {
		return nil, h.NodesErr
	}
	out := make([]sampler.ComputeNode, 0, len(h.nodes))
	for _, n := range h.nodes {
		out = append(out, n.ComputeNode)
	}
	return out, nil
}

func (h *Host) ExecutorSlots(_ context.Context, node sampler.ComputeNode) ([]sampler.Slot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.SlotsErr[node.DisplayName]; err != nil {
		return nil, err
	}
	for _, n := range h.nodes {
		if n.DisplayName == node.DisplayName {
			return append([]sampler.Slot(nil), n.Slots...), nil
		}
	}
	return nil, nil
}

func (h *Host) CompletedBuilds(_ context.Context, from, to time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.BuildsErr != nil {
		return 0, h.BuildsErr
	}
	n := 0
	for _, ts := range h.buildTimes {
		if !ts.Before(from) && !ts.After(to) {
			n++
		}
	}
	return n, nil
}

// Online returns a reachable node with the given busy pattern, one slot per entry.
func Online(name string, busy ...bool) Node {
	n := Node{ComputeNode: sampler.ComputeNode{DisplayName: name, Reachable: true}}
	for _, b := range busy {
		n.Slots = append(n.Slots, sampler.Slot{Busy: b})
	}
	return n
}

// Offline returns an unreachable node with the given cause and slot count.
func Offline(name, cause string, slots int) Node {
	n := Node{ComputeNode: sampler.ComputeNode{DisplayName: name, OfflineCause: cause}}
	for i := 0; i < slots; i++ {
		n.Slots = append(n.Slots, sampler.Slot{})
	}
	return n
}
