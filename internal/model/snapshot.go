package model

import "time"

// ExecutorType says whether a slot belongs to the controller itself or to an attached agent.
type ExecutorType int

const (
	ExecutorPrimary ExecutorType = iota
	ExecutorWorker
)

var AllExecutorTypes = []ExecutorType{ExecutorPrimary, ExecutorWorker}

func (t ExecutorType) String() string {
	switch t {
	case ExecutorPrimary:
		return "primary"
	case ExecutorWorker:
		return "worker"
	default:
		return "unknown"
	}
}

type ExecutorState int

const (
	ExecutorBusy ExecutorState = iota
	ExecutorIdle
	ExecutorDraining
	ExecutorOffline
)

var AllExecutorStates = []ExecutorState{ExecutorBusy, ExecutorIdle, ExecutorDraining, ExecutorOffline}

func (s ExecutorState) String() string {
	switch s {
	case ExecutorBusy:
		return "busy"
	case ExecutorIdle:
		return "idle"
	case ExecutorDraining:
		return "draining"
	case ExecutorOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// OfflineReason attributes an Offline slot to a known cause. ReasonNone is used for
// every slot that is not Offline and for Offline slots with no recognised cause.
type OfflineReason int

const (
	ReasonNone OfflineReason = iota
	ReasonAgentContainerReclaim
	ReasonLockContention
)

var AllOfflineReasons = []OfflineReason{ReasonAgentContainerReclaim, ReasonLockContention}

func (r OfflineReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonAgentContainerReclaim:
		return "docker"
	case ReasonLockContention:
		return "ensure_node_lock"
	default:
		return "unknown"
	}
}

type QueueEntry struct {
	TaskKey    string
	WaitMillis int64
}

type ExecutorSlot struct {
	Type   ExecutorType
	State  ExecutorState
	Reason OfflineReason
}

// Snapshot is the classified scheduler state captured by one tick.
// It is never modified after construction.
type Snapshot struct {
	QueueEntries        []QueueEntry
	CompletedBuildCount int
	Executors           []ExecutorSlot
	CapturedAt          time.Time
}

func (s Snapshot) CapturedAtMillis() int64 {
	return s.CapturedAt.UnixMilli()
}
