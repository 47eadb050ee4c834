package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/approval"
	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrix.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestTask(t *testing.T, st *store.Store) model.Task {
	t.Helper()
	now := time.Now()
	task := model.Task{ID: model.NewID(), Prompt: "build a thing", Status: model.TaskPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateTask(task))
	return task
}

func TestStartRun_PlanPhaseReachesAwaitingApproval(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)

	plan := func(runID, prompt string) ([]byte, error) {
		return []byte("1. write code\n2. write tests"), nil
	}
	step := func(runID string, s model.Step) ([]byte, error) { return []byte("done"), nil }

	o := New(st, b, gw, plan, step)
	run, err := o.StartRun(task.ID, task.Prompt)
	require.NoError(t, err)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAwaitingApproval, got.Status)

	storedRun, err := st.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("1. write code\n2. write tests"), storedRun.PlanArtifact)
}

func TestStartRun_PlanPhaseFailureFailsRun(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)

	plan := func(runID, prompt string) ([]byte, error) {
		return nil, assertErr("provider unavailable")
	}
	step := func(runID string, s model.Step) ([]byte, error) { return nil, nil }

	o := New(st, b, gw, plan, step)
	run, err := o.StartRun(task.ID, task.Prompt)
	require.Error(t, err)
	assert.Equal(t, model.RunFailed, run.Status)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
}

func TestResolveApproval_ApprovedRunsBuildPhase(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)

	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))
	require.NoError(t, st.CreateStep(model.Step{ID: model.NewID(), RunID: run.ID, Index: 0, Title: "write code", Status: model.StepPending, MaxRetries: 1}))

	var stepCalls int
	plan := func(runID, prompt string) ([]byte, error) { return nil, nil }
	step := func(runID string, s model.Step) ([]byte, error) {
		stepCalls++
		return []byte("ok"), nil
	}

	o := New(st, b, gw, plan, step)
	got, err := o.ResolveApproval(run, true, "")
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, 1, stepCalls)

	task2, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task2.Status)
}

func TestResolveApproval_RejectedReturnsToPlanning(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	plan := func(runID, prompt string) ([]byte, error) { return nil, nil }
	step := func(runID string, s model.Step) ([]byte, error) { return nil, nil }

	o := New(st, b, gw, plan, step)
	_, err := o.ResolveApproval(run, false, "needs more detail")
	require.NoError(t, err)

	got, err := st.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPlanning, got.Status)
}

func TestRunBuildPhase_SkipsAlreadyCompletedSteps(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))
	require.NoError(t, st.CreateStep(model.Step{ID: model.NewID(), RunID: run.ID, Index: 0, Title: "already done", Status: model.StepCompleted}))
	require.NoError(t, st.CreateStep(model.Step{ID: model.NewID(), RunID: run.ID, Index: 1, Title: "pending work", Status: model.StepPending, MaxRetries: 1}))

	var ranTitles []string
	plan := func(runID, prompt string) ([]byte, error) { return nil, nil }
	step := func(runID string, s model.Step) ([]byte, error) {
		ranTitles = append(ranTitles, s.Title)
		return []byte("ok"), nil
	}

	o := New(st, b, gw, plan, step)
	got, err := o.Resume(run, model.Task{ID: task.ID, Status: model.TaskBuilding, Prompt: task.Prompt})
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, []string{"pending work"}, ranTitles)
}

func TestResume_NonBuildingTaskRestartsPlanPhase(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))

	var planCalled bool
	plan := func(runID, prompt string) ([]byte, error) {
		planCalled = true
		return []byte("plan"), nil
	}
	step := func(runID string, s model.Step) ([]byte, error) { return nil, nil }

	o := New(st, b, gw, plan, step)
	_, err := o.Resume(run, model.Task{ID: task.ID, Status: model.TaskAwaitingApproval, Prompt: task.Prompt})
	require.NoError(t, err)
	assert.True(t, planCalled)
}

func TestRunStepWithRetries_RetriesUpToMax(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	gw := approval.New(nil)
	task := newTestTask(t, st)
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(run))
	stepRow := model.Step{ID: model.NewID(), RunID: run.ID, Index: 0, Title: "flaky", Status: model.StepPending, MaxRetries: 2}
	require.NoError(t, st.CreateStep(stepRow))

	attempts := 0
	plan := func(runID, prompt string) ([]byte, error) { return nil, nil }
	step := func(runID string, s model.Step) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, assertErr("transient failure")
		}
		return []byte("ok"), nil
	}

	o := New(st, b, gw, plan, step)
	got, err := o.ResolveApproval(run, true, "")
	require.NoError(t, err)
	assert.Equal(t, model.RunSucceeded, got.Status)
	assert.Equal(t, 3, attempts)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
