package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T, tasks ...*Task) *Graph {
	t.Helper()
	g := NewGraph()
	for _, task := range tasks {
		require.NoError(t, g.AddTask(task))
	}
	return g
}

func TestAddTaskRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	g := buildGraph(t, &Task{ID: "a"})
	assert.Error(t, g.AddTask(&Task{ID: "a"}))
	assert.Error(t, g.AddTask(&Task{}))
}

func TestAddTaskResetsStatus(t *testing.T) {
	g := buildGraph(t, &Task{ID: "a", Status: TaskCompleted})
	got, ok := g.Get("a")
	require.True(t, ok)
	assert.Equal(t, TaskPending, got.Status)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []*Task
		wantErr string
	}{
		{
			name:  "linear chain",
			tasks: []*Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}, {ID: "c", DependsOn: []string{"b"}}},
		},
		{
			name:  "diamond",
			tasks: []*Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}, {ID: "c", DependsOn: []string{"a"}}, {ID: "d", DependsOn: []string{"b", "c"}}},
		},
		{
			name:    "missing dependency",
			tasks:   []*Task{{ID: "a", DependsOn: []string{"ghost"}}},
			wantErr: "non-existent",
		},
		{
			name:    "cycle",
			tasks:   []*Task{{ID: "root"}, {ID: "a", DependsOn: []string{"root", "b"}}, {ID: "b", DependsOn: []string{"a"}}},
			wantErr: "cycle",
		},
		{
			name:    "cycle without roots",
			tasks:   []*Task{{ID: "a", DependsOn: []string{"b"}}, {ID: "b", DependsOn: []string{"a"}}},
			wantErr: "cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildGraph(t, tt.tasks...).Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOrderBreaksTiesByOrdinal(t *testing.T) {
	g := buildGraph(t,
		&Task{ID: "docs", Ordinal: 4},
		&Task{ID: "schema", Ordinal: 1},
		&Task{ID: "api", Ordinal: 3, DependsOn: []string{"schema"}},
		&Task{ID: "cli", Ordinal: 2, DependsOn: []string{"api"}},
	)
	order, err := g.Order()
	require.NoError(t, err)
	// cli has a lower ordinal than docs but must wait for api.
	assert.Equal(t, []string{"schema", "api", "cli", "docs"}, order)
}

func TestNextFollowsOrder(t *testing.T) {
	g := buildGraph(t,
		&Task{ID: "b", Ordinal: 2},
		&Task{ID: "a", Ordinal: 1},
		&Task{ID: "c", Ordinal: 3, DependsOn: []string{"a", "b"}},
	)
	order, err := g.Order()
	require.NoError(t, err)

	var got []string
	for {
		task, ok := g.Next()
		if !ok {
			break
		}
		require.NoError(t, g.Start(task.ID))
		require.NoError(t, g.Complete(task.ID, []string{task.ID + ".go"}))
		got = append(got, task.ID)
	}
	assert.Equal(t, order, got)
	assert.Zero(t, g.Remaining())
}

// T2 depends on T1; starting T2 while T1 is pending is refused and T2 stays pending.
func TestStartRefusesUnmetDependency(t *testing.T) {
	g := buildGraph(t, &Task{ID: "T1", Ordinal: 1}, &Task{ID: "T2", Ordinal: 2, DependsOn: []string{"T1"}})

	err := g.Start("T2")
	require.ErrorIs(t, err, ErrDependencyNotCompleted)
	assert.Contains(t, err.Error(), "T1")

	t2, _ := g.Get("T2")
	assert.Equal(t, TaskPending, t2.Status)

	next, ok := g.Next()
	require.True(t, ok)
	assert.Equal(t, "T1", next.ID)

	require.NoError(t, g.Start("T1"))
	err = g.Start("T2")
	assert.ErrorIs(t, err, ErrDependencyNotCompleted, "in-progress dependency is still unmet")

	require.NoError(t, g.Complete("T1", []string{"a.go"}))
	assert.NoError(t, g.Start("T2"))
}

func TestCompleteRequiresInProgress(t *testing.T) {
	g := buildGraph(t, &Task{ID: "a"})
	assert.Error(t, g.Complete("a", nil))
	require.NoError(t, g.Start("a"))
	assert.Error(t, g.Start("a"))
	require.NoError(t, g.Complete("a", []string{"x.go"}))

	got, _ := g.Get("a")
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, []string{"x.go"}, got.Files)
}

func TestGetReturnsCopy(t *testing.T) {
	g := buildGraph(t, &Task{ID: "a", Criteria: []string{"works"}})
	got, _ := g.Get("a")
	got.Criteria[0] = "mutated"
	got.Status = TaskCompleted

	again, _ := g.Get("a")
	assert.Equal(t, "works", again.Criteria[0])
	assert.Equal(t, TaskPending, again.Status)
}

func TestSetReview(t *testing.T) {
	g := buildGraph(t, &Task{ID: "a"})
	require.NoError(t, g.SetReview("a", ReviewState{Stage: "quality_review", SpecIterations: 2, QualityIterations: 1}))
	got, _ := g.Get("a")
	assert.Equal(t, 2, got.Review.SpecIterations)
	assert.Error(t, g.SetReview("missing", ReviewState{}))
}
