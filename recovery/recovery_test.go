package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newRun(t *testing.T, st *store.Store, status model.RunStatus) model.Run {
	t.Helper()
	now := time.Now()
	task := model.Task{ID: model.NewID(), Prompt: "p", Status: model.TaskBuilding, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateTask(task))
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: status, StartedAt: now}
	require.NoError(t, st.CreateRun(run))
	return run
}

func TestRecovery_Run_NoCheckpointResumesFromZero(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	run := newRun(t, st, model.RunRunning)

	var gotFrom int
	resumer := func(r model.Run, resumeFromStep int) error {
		gotFrom = resumeFromStep
		return nil
	}

	rec := New(st, b, resumer)
	stats, err := rec.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RunsScanned)
	assert.Equal(t, 1, stats.RunsResumed)
	assert.Equal(t, 0, gotFrom)
}

func TestRecovery_Run_ResumesFromCheckpointPlusOne(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	run := newRun(t, st, model.RunRunning)
	require.NoError(t, st.UpsertCheckpoint(model.Checkpoint{RunID: run.ID, LastStepIndex: 2, UpdatedAt: time.Now()}))

	var gotFrom int
	resumer := func(r model.Run, resumeFromStep int) error {
		gotFrom = resumeFromStep
		return nil
	}

	rec := New(st, b, resumer)
	stats, err := rec.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RunsResumed)
	assert.Equal(t, 3, gotFrom)
}

func TestRecovery_Run_MalformedRuntimeStateMarksFailed(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	run := newRun(t, st, model.RunRunning)
	require.NoError(t, st.UpsertCheckpoint(model.Checkpoint{RunID: run.ID, LastStepIndex: 0, UpdatedAt: time.Now(), RuntimeState: []byte("{not json")}))

	resumer := func(r model.Run, resumeFromStep int) error { return nil }

	rec := New(st, b, resumer)
	stats, err := rec.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RunsFailed)
	assert.Equal(t, 0, stats.RunsResumed)
	assert.Contains(t, stats.FailedRunIDs, run.ID)

	got, err := st.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
}

func TestRecovery_Run_ResumerErrorMarksUnrecoverable(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	run := newRun(t, st, model.RunRunning)

	resumer := func(r model.Run, resumeFromStep int) error { return assertErr("resume failed") }

	rec := New(st, b, resumer)
	stats, err := rec.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RunsFailed)
}

func TestRecovery_Run_NoNonTerminalRuns(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	resumer := func(r model.Run, resumeFromStep int) error {
		t.Fatal("resumer should not be called when there is nothing to resume")
		return nil
	}

	rec := New(st, b, resumer)
	stats, err := rec.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RunsScanned)
}

func TestResumeTask_FindsMatchingRun(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	run := newRun(t, st, model.RunRunning)

	var called bool
	resumer := func(r model.Run, resumeFromStep int) error {
		called = true
		return nil
	}

	rec := New(st, b, resumer)
	got, err := ResumeTask(rec, st, run.TaskID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, called)
}

func TestResumeTask_NoMatchingRun(t *testing.T) {
	st := newTestStore(t)
	b := bus.New(16)
	resumer := func(r model.Run, resumeFromStep int) error { return nil }

	rec := New(st, b, resumer)
	_, err := ResumeTask(rec, st, "nonexistent-task")
	require.Error(t, err)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
