package sampler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/statsd"
)

// Substrings looked for in an offline node's cause description, in precedence order.
const (
	DrainMarker            = "scaledown"
	ContainerReclaimMarker = "docker"
	LockContentionMarker   = "ensure node lock"
)

// Sampler reads the host state once per call and classifies every executor slot.
type Sampler struct {
	host           Host
	controllerName string
	logger         *zap.Logger
}

func New(host Host, controllerName string, logger *zap.Logger) *Sampler {
	if controllerName == "" {
		controllerName = model.DefaultControllerName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{host: host, controllerName: controllerName, logger: logger}
}

// Sample builds a snapshot as of now. Each host query is consistent on its own; the
// snapshot as a whole is not transactional. A failing query contributes no data.
func (s *Sampler) Sample(ctx context.Context, now time.Time, window time.Duration) model.Snapshot {
	snap := model.Snapshot{CapturedAt: now.Truncate(time.Millisecond)}

	items, err := s.host.QueuedItems(ctx)
	if err != nil {
		s.logger.Warn("list queued items", zap.Error(err))
	}
	snap.QueueEntries = make([]model.QueueEntry, 0, len(items))
	for _, it := range items {
		wait := now.Sub(it.EnqueuedAt).Milliseconds()
		if wait < 0 {
			wait = 0
		}
		snap.QueueEntries = append(snap.QueueEntries, model.QueueEntry{
			TaskKey:    statsd.Sanitize(it.TaskName),
			WaitMillis: wait,
		})
	}

	builds, err := s.host.CompletedBuilds(ctx, now.Add(-window), now)
	if err != nil {
		s.logger.Warn("count completed builds", zap.Error(err))
		builds = 0
	}
	if builds < 0 {
		builds = 0
	}
	snap.CompletedBuildCount = builds

	nodes, err := s.host.ComputeNodes(ctx)
	if err != nil {
		s.logger.Warn("list compute nodes", zap.Error(err))
	}
	for _, node := range nodes {
		slots, err := s.host.ExecutorSlots(ctx, node)
		if err != nil {
			s.logger.Warn("list executor slots", zap.String("node", node.DisplayName), zap.Error(err))
			continue
		}
		typ := s.nodeType(node)
		for _, slot := range slots {
			state, reason := ClassifySlot(node, slot)
			snap.Executors = append(snap.Executors, model.ExecutorSlot{Type: typ, State: state, Reason: reason})
		}
	}
	return snap
}

func (s *Sampler) nodeType(node ComputeNode) model.ExecutorType {
	if node.DisplayName == s.controllerName {
		return model.ExecutorPrimary
	}
	return model.ExecutorWorker
}

// ClassifySlot decides the state of one executor slot on node.
func ClassifySlot(node ComputeNode, slot Slot) (model.ExecutorState, model.OfflineReason) {
	if !node.Reachable {
		return ClassifyOfflineCause(node.OfflineCause)
	}
	if slot.Busy {
		return model.ExecutorBusy, model.ReasonNone
	}
	return model.ExecutorIdle, model.ReasonNone
}

// ClassifyOfflineCause maps an unreachable node's cause description to a state.
// The first matching marker wins; a draining node never carries an offline reason.
func ClassifyOfflineCause(description string) (model.ExecutorState, model.OfflineReason) {
	switch {
	case description == "":
		return model.ExecutorOffline, model.ReasonNone
	case strings.Contains(description, DrainMarker):
		return model.ExecutorDraining, model.ReasonNone
	case strings.Contains(description, ContainerReclaimMarker):
		return model.ExecutorOffline, model.ReasonAgentContainerReclaim
	case strings.Contains(description, LockContentionMarker):
		return model.ExecutorOffline, model.ReasonLockContention
	default:
		return model.ExecutorOffline, model.ReasonNone
	}
}
