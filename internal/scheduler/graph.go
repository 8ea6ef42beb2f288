package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// ErrDependencyNotCompleted is returned when a task is started before all of
// its dependencies completed.
var ErrDependencyNotCompleted = errors.New("dependency not completed")

// Graph holds the approved tasks of a plan and hands them out one at a time
// in dependency order, lowest ordinal first among ready tasks.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewGraph creates an empty task graph.
func NewGraph() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// AddTask adds a task. New tasks always start pending.
func (g *Graph) AddTask(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task has empty ID")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}
	t := cloneTask(task)
	t.Status = TaskPending
	g.tasks[t.ID] = t
	return nil
}

// Validate checks that every dependency exists and that the graph is acyclic.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for id, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range task.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return fmt.Errorf("task %q depends on non-existent task %q", id, dep)
			}
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return fmt.Errorf("task graph contains cycle: %w", err)
	}
	seen := 0
	for _, id := range sorted {
		if id != nil {
			seen++
		}
	}
	if seen != len(g.tasks) {
		return fmt.Errorf("task graph contains cycle: %d of %d tasks unreachable", len(g.tasks)-seen, len(g.tasks))
	}
	return nil
}

// Order returns task IDs in execution order: a topological order in which,
// whenever several tasks are ready, the lowest ordinal goes first.
func (g *Graph) Order() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	done := make(map[string]bool, len(g.tasks))
	order := make([]string, 0, len(g.tasks))
	for len(order) < len(g.tasks) {
		ready := g.readyLocked(func(id string) bool { return done[id] }, func(t *Task) bool { return !done[t.ID] })
		if len(ready) == 0 {
			return nil, fmt.Errorf("task graph stalled after %d tasks", len(order))
		}
		done[ready[0].ID] = true
		order = append(order, ready[0].ID)
	}
	return order, nil
}

// Next returns the pending task that should run now, if any.
func (g *Graph) Next() (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ready := g.readyLocked(g.completedLocked, func(t *Task) bool { return t.Status == TaskPending })
	if len(ready) == 0 {
		return nil, false
	}
	return cloneTask(ready[0]), true
}

// readyLocked returns candidates whose dependencies all satisfy isDone,
// sorted by ordinal then ID.
func (g *Graph) readyLocked(isDone func(string) bool, candidate func(*Task) bool) []*Task {
	var ready []*Task
	for _, t := range g.tasks {
		if !candidate(t) {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !isDone(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Ordinal != ready[j].Ordinal {
			return ready[i].Ordinal < ready[j].Ordinal
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

func (g *Graph) completedLocked(id string) bool {
	t, ok := g.tasks[id]
	return ok && t.Status == TaskCompleted
}

// Start moves a pending task to in_progress. It refuses while any dependency
// is not completed.
func (g *Graph) Start(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != TaskPending {
		return fmt.Errorf("task %q is %s, not pending", id, task.Status)
	}
	var waiting []string
	for _, dep := range task.DependsOn {
		if !g.completedLocked(dep) {
			waiting = append(waiting, dep)
		}
	}
	if len(waiting) > 0 {
		return fmt.Errorf("task %q waits on %s: %w", id, strings.Join(waiting, ", "), ErrDependencyNotCompleted)
	}
	task.Status = TaskInProgress
	return nil
}

// Complete marks an in-progress task completed with the files its
// finalized work touched.
func (g *Graph) Complete(id string, files []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if task.Status != TaskInProgress {
		return fmt.Errorf("task %q is %s, not in progress", id, task.Status)
	}
	task.Status = TaskCompleted
	task.Files = slices.Clone(files)
	return nil
}

// SetReview records the review progress of a task.
func (g *Graph) SetReview(id string, rs ReviewState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	task.Review = rs
	return nil
}

// Get returns a copy of the task with the given ID.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	task, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tasks sorted by ordinal.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remaining counts tasks that are not completed.
func (g *Graph) Remaining() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, t := range g.tasks {
		if t.Status != TaskCompleted {
			n++
		}
	}
	return n
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	cp := *task
	cp.DependsOn = slices.Clone(task.DependsOn)
	cp.Criteria = slices.Clone(task.Criteria)
	cp.Files = slices.Clone(task.Files)
	return &cp
}
