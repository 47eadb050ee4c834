package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "orchestrix.db")
	st, err := Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTask(t *testing.T, st *Store) model.Task {
	t.Helper()
	now := time.Now()
	task := model.Task{ID: model.NewID(), Prompt: "do something", Status: model.TaskPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateTask(task))
	return task
}

func TestStore_CreateAndGetTask(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Prompt, got.Prompt)
	assert.Equal(t, model.TaskPending, got.Status)
}

func TestStore_UpdateTaskStatus(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)

	require.NoError(t, st.UpdateTaskStatus(task.ID, model.TaskPlanning, time.Now()))

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPlanning, got.Status)
}

func TestStore_CreateRunAndListNonTerminal(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)

	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	runs, err := st.ListNonTerminalRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	require.NoError(t, st.UpdateRunStatus(run.ID, model.RunSucceeded, "", nil))

	runs, err = st.ListNonTerminalRuns()
	require.NoError(t, err)
	assert.Len(t, runs, 0)
}

func TestStore_SetPlanArtifact(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	require.NoError(t, st.SetPlanArtifact(run.ID, []byte("1. do the thing")))

	got, err := st.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("1. do the thing"), got.PlanArtifact)
}

func TestStore_CreateAndListSteps(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	for i := 0; i < 3; i++ {
		require.NoError(t, st.CreateStep(model.Step{
			ID: model.NewID(), RunID: run.ID, Index: i, Title: "step", Status: model.StepPending, MaxRetries: 2,
		}))
	}

	steps, err := st.ListSteps(run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 0, steps[0].Index)
	assert.Equal(t, 2, steps[2].Index)

	now := time.Now()
	require.NoError(t, st.UpdateStepStatus(steps[0].ID, model.StepCompleted, []byte("done"), &now, &now))
	steps, err = st.ListSteps(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, steps[0].Status)
}

func TestStore_AppendAndListEvents(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	require.NoError(t, st.AppendEvent(model.Event{
		ID: model.NewID(), RunID: &run.ID, Category: model.CategoryTask, Type: "run.started", CreatedAt: time.Now(),
	}))

	events, err := st.ListEvents(run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "run.started", events[0].Type)
}

func TestStore_CheckpointUpsert(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	_, ok, err := st.GetCheckpoint(run.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.UpsertCheckpoint(model.Checkpoint{RunID: run.ID, LastStepIndex: 1, UpdatedAt: time.Now()}))
	cp, ok, err := st.GetCheckpoint(run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, cp.LastStepIndex)

	require.NoError(t, st.UpsertCheckpoint(model.Checkpoint{RunID: run.ID, LastStepIndex: 2, UpdatedAt: time.Now()}))
	cp, ok, err = st.GetCheckpoint(run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, cp.LastStepIndex, "upsert should replace, not duplicate")
}

func TestStore_ApprovalRequestLifecycle(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	toolCall := model.ToolCall{ID: model.NewID(), RunID: run.ID, ToolName: "shell.exec", Status: model.ToolCallAwaitingApproval}
	require.NoError(t, st.CreateToolCall(toolCall))

	req := model.ApprovalRequest{ID: model.NewID(), ToolCallID: toolCall.ID, Scope: model.ScopeDestructive, Reason: "rm -rf", CreatedAt: time.Now()}
	require.NoError(t, st.CreateApprovalRequest(req))

	require.NoError(t, st.ResolveApprovalRequest(req.ID, "alice", model.DecisionApproved, time.Now()))
}

func TestStore_DeleteTaskCascade(t *testing.T) {
	st := newTestStore(t)
	task := newTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))
	require.NoError(t, st.CreateStep(model.Step{ID: model.NewID(), RunID: run.ID, Index: 0, Title: "step", Status: model.StepPending}))

	require.NoError(t, st.DeleteTaskCascade(task.ID))

	_, err := st.GetTask(task.ID)
	assert.Error(t, err)

	steps, err := st.ListSteps(run.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 0, "cascade delete should remove steps via foreign key")
}
