package events

import "time"

// Event is anything published on the bus.
type Event interface {
	Topic() string
	EventType() string
	Subject() string // phase name, task ID or invocation ID
}

// Topics
const (
	TopicPhase      = "phase"
	TopicTask       = "task"
	TopicWorker     = "worker"
	TopicEscalation = "escalation"
)

// Event types
const (
	EventTypePhaseStarted        = "phase.started"
	EventTypePhaseSkipped        = "phase.skipped"
	EventTypePhaseCompleted      = "phase.completed"
	EventTypeCheckpointPresented = "checkpoint.presented"
	EventTypeCheckpointDecided   = "checkpoint.decided"
	EventTypeWorkerDispatched    = "worker.dispatched"
	EventTypeWorkerRetried       = "worker.retried"
	EventTypeTaskStarted         = "task.started"
	EventTypeStageVerdict        = "task.verdict"
	EventTypeTaskCompleted       = "task.completed"
	EventTypeEscalated           = "escalation.raised"
	EventTypeRunProgress         = "run.progress"
)

// PhaseStartedEvent is published when a phase begins.
type PhaseStartedEvent struct {
	Phase     string
	Index     int
	Timestamp time.Time
}

func (e PhaseStartedEvent) Topic() string     { return TopicPhase }
func (e PhaseStartedEvent) EventType() string { return EventTypePhaseStarted }
func (e PhaseStartedEvent) Subject() string   { return e.Phase }

// PhaseSkippedEvent is published when a skip rule bypasses a phase.
type PhaseSkippedEvent struct {
	Phase     string
	Index     int
	Reason    string
	Timestamp time.Time
}

func (e PhaseSkippedEvent) Topic() string     { return TopicPhase }
func (e PhaseSkippedEvent) EventType() string { return EventTypePhaseSkipped }
func (e PhaseSkippedEvent) Subject() string   { return e.Phase }

// PhaseCompletedEvent is published when a phase completes.
type PhaseCompletedEvent struct {
	Phase     string
	Index     int
	Duration  time.Duration
	Timestamp time.Time
}

func (e PhaseCompletedEvent) Topic() string     { return TopicPhase }
func (e PhaseCompletedEvent) EventType() string { return EventTypePhaseCompleted }
func (e PhaseCompletedEvent) Subject() string   { return e.Phase }

// CheckpointPresentedEvent is published when a summary awaits a decision.
type CheckpointPresentedEvent struct {
	Phase     string
	Revision  int
	Timestamp time.Time
}

func (e CheckpointPresentedEvent) Topic() string     { return TopicPhase }
func (e CheckpointPresentedEvent) EventType() string { return EventTypeCheckpointPresented }
func (e CheckpointPresentedEvent) Subject() string   { return e.Phase }

// CheckpointDecidedEvent is published with the operator's decision.
type CheckpointDecidedEvent struct {
	Phase     string
	Revision  int
	Approved  bool
	Feedback  string
	Timestamp time.Time
}

func (e CheckpointDecidedEvent) Topic() string     { return TopicPhase }
func (e CheckpointDecidedEvent) EventType() string { return EventTypeCheckpointDecided }
func (e CheckpointDecidedEvent) Subject() string   { return e.Phase }

// WorkerDispatchedEvent is published for every new invocation.
type WorkerDispatchedEvent struct {
	InvocationID string
	Role         string
	Angle        string
	Attempt      int
	Timestamp    time.Time
}

func (e WorkerDispatchedEvent) Topic() string     { return TopicWorker }
func (e WorkerDispatchedEvent) EventType() string { return EventTypeWorkerDispatched }
func (e WorkerDispatchedEvent) Subject() string   { return e.InvocationID }

// WorkerRetriedEvent is published when a failed invocation is retried.
type WorkerRetriedEvent struct {
	InvocationID string
	Role         string
	Err          string
	Timestamp    time.Time
}

func (e WorkerRetriedEvent) Topic() string     { return TopicWorker }
func (e WorkerRetriedEvent) EventType() string { return EventTypeWorkerRetried }
func (e WorkerRetriedEvent) Subject() string   { return e.InvocationID }

// TaskStartedEvent is published when an implementation task starts.
type TaskStartedEvent struct {
	ID        string
	Ordinal   int
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Subject() string   { return e.ID }

// StageVerdictEvent is published after each review stage evaluation.
type StageVerdictEvent struct {
	ID        string
	Stage     string
	Iteration int
	Pass      bool
	Findings  int
	Timestamp time.Time
}

func (e StageVerdictEvent) Topic() string     { return TopicTask }
func (e StageVerdictEvent) EventType() string { return EventTypeStageVerdict }
func (e StageVerdictEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when a task passed review and was finalized.
type TaskCompletedEvent struct {
	ID        string
	Files     []string
	Commit    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// EscalatedEvent is published whenever work is handed to the operator.
type EscalatedEvent struct {
	Kind      string
	Phase     string
	TaskID    string
	Detail    string
	Timestamp time.Time
}

func (e EscalatedEvent) Topic() string     { return TopicEscalation }
func (e EscalatedEvent) EventType() string { return EventTypeEscalated }
func (e EscalatedEvent) Subject() string {
	if e.TaskID != "" {
		return e.TaskID
	}
	return e.Phase
}

// RunProgressEvent is published after every phase that finished or was skipped.
type RunProgressEvent struct {
	Finished  int
	Total     int
	Timestamp time.Time
}

func (e RunProgressEvent) Topic() string     { return TopicPhase }
func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) Subject() string   { return "run" }
