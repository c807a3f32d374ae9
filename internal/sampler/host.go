// Package sampler captures a point-in-time snapshot of a CI server's scheduler state.
package sampler

import (
	"context"
	"time"
)

// QueuedItem is one unit of work waiting in the host queue.
type QueuedItem struct {
	TaskName   string
	EnqueuedAt time.Time
}

// ComputeNode is a controller or agent able to run builds. OfflineCause is the
// host's human-readable description of why an unreachable node is offline; it may be empty.
type ComputeNode struct {
	DisplayName  string
	Reachable    bool
	OfflineCause string
}

// Slot is one executor on a compute node.
type Slot struct {
	Busy bool
}

// Host is the read-only query surface of the CI server. Implementations may return
// partial or empty results; none of the methods may mutate host state.
type Host interface {
	QueuedItems(ctx context.Context) ([]QueuedItem, error)
	ComputeNodes(ctx context.Context) ([]ComputeNode, error)
	ExecutorSlots(ctx context.Context, node ComputeNode) ([]Slot, error)
	CompletedBuilds(ctx context.Context, from, to time.Time) (int, error)
}
