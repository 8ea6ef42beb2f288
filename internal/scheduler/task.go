package scheduler

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// ReviewState tracks where a task is in its two-stage review.
type ReviewState struct {
	Stage             string
	SpecIterations    int
	QualityIterations int
}

// Task is one unit of implementation work produced by the plan.
type Task struct {
	ID          string
	Ordinal     int      // Position in the approved plan; breaks ordering ties
	Description string   // Opaque work description
	Criteria    []string // Acceptance criteria
	DependsOn   []string
	Status      TaskStatus
	Files       []string // Files the finalized work touched
	Review      ReviewState
}
