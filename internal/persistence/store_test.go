package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/phasegate/internal/scheduler"
	"github.com/aristath/phasegate/internal/worker"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTask(ctx, scheduler.Task{ID: "T1", Ordinal: 1, Description: "schema"}))
	require.NoError(t, store.CreateTask(ctx, scheduler.Task{
		ID:          "T2",
		Ordinal:     2,
		Description: "api",
		Criteria:    []string{"returns 404", "validates input"},
		DependsOn:   []string{"T1"},
	}))

	got, err := store.GetTask(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Ordinal)
	assert.Equal(t, scheduler.TaskPending, got.Status)
	assert.Equal(t, []string{"returns 404", "validates input"}, got.Criteria)
	assert.Equal(t, []string{"T1"}, got.DependsOn)
	assert.Empty(t, got.Files)
}

func TestCreateTaskRequiresExistingDependency(t *testing.T) {
	store := testStore(t)
	err := store.CreateTask(context.Background(), scheduler.Task{ID: "T2", DependsOn: []string{"T1"}})
	assert.ErrorContains(t, err, "does not exist")

	_, err = store.GetTask(context.Background(), "T2")
	assert.ErrorIs(t, err, ErrTaskNotFound, "failed create must not leave a row behind")
}

func TestUpdateStatusAndReview(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, scheduler.Task{ID: "T1", Ordinal: 1, Description: "x"}))

	require.NoError(t, store.UpdateStatus(ctx, "T1", scheduler.TaskInProgress))
	require.NoError(t, store.RecordReview(ctx, "T1",
		scheduler.ReviewState{Stage: "quality_review", SpecIterations: 2, QualityIterations: 1},
		[]string{"a.go", "a_test.go"}, "abc123"))
	require.NoError(t, store.UpdateStatus(ctx, "T1", scheduler.TaskCompleted))

	got, err := store.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, scheduler.TaskCompleted, got.Status)
	assert.Equal(t, 2, got.Review.SpecIterations)
	assert.Equal(t, []string{"a.go", "a_test.go"}, got.Files)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "ghost", scheduler.TaskCompleted), ErrTaskNotFound)
}

func TestListTasksByOrdinal(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, scheduler.Task{ID: "b", Ordinal: 2, Description: "b"}))
	require.NoError(t, store.CreateTask(ctx, scheduler.Task{ID: "a", Ordinal: 1, Description: "a"}))
	require.NoError(t, store.CreateTask(ctx, scheduler.Task{ID: "c", Ordinal: 3, Description: "c", DependsOn: []string{"a", "b"}}))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "c", tasks[2].ID)
	assert.Equal(t, []string{"a", "b"}, tasks[2].DependsOn)
}

func TestTranscript(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	inv := worker.Invocation{ID: "inv-1", Role: worker.Implementer, Phase: "implement", TaskID: "T1", Attempt: 1, StartedAt: time.Now()}
	require.NoError(t, store.RecordInvocation(ctx, inv, "session-1"))
	require.NoError(t, store.SaveMessage(ctx, "inv-1", "user", "build it"))
	require.NoError(t, store.SaveMessage(ctx, "inv-1", "assistant", "built"))

	history, err := store.GetHistory(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "built", history[1].Content)

	empty, err := store.GetHistory(ctx, "inv-2")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	invs, err := store.ListInvocations(ctx)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "session-1", invs[0].SessionID)
	assert.Equal(t, "implementer", invs[0].Role)
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()
	require.NoError(t, a.CreateTask(ctx, scheduler.Task{ID: "T1", Description: "x"}))

	tasks, err := b.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasks.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.CreateTask(ctx, scheduler.Task{ID: "T1", Description: "x"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Description)
}
