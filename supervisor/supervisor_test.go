package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/store"
)

// newTestRepo creates a temp git repository with one commit on branch
// "main", so Supervisor.Spawn has a real baseRef to worktree from.
func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	return dir
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrix.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fakeRunner struct {
	err      error
	attempts int
}

func (f *fakeRunner) RunSubAgent(ctx context.Context, subAgentID string) error {
	f.attempts++
	return f.err
}

func newRunAndTask(t *testing.T, st *store.Store) model.Run {
	t.Helper()
	now := time.Now()
	task := model.Task{ID: model.NewID(), Prompt: "p", Status: model.TaskBuilding, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateTask(task))
	run := model.Run{ID: model.NewID(), TaskID: task.ID, Status: model.RunRunning, StartedAt: now}
	require.NoError(t, st.CreateRun(run))
	return run
}

func TestSupervisor_Spawn_Success(t *testing.T) {
	repo := newTestRepo(t)
	st := newTestStore(t)
	b := bus.New(16)
	runner := &fakeRunner{}
	sup := New(st, b, NewWorktreeManager(repo), runner)
	run := newRunAndTask(t, st)

	sa, err := sup.Spawn(context.Background(), SpawnRequest{
		RunID: run.ID, Name: "worker-1", BaseRef: "main",
		CurrentDepth: 0,
		Contract:     policy.DelegationContract{MaySpawnChildren: true, MaxDelegationDepth: 2},
		MaxAttempts:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubAgentClosed, sa.Status)
	assert.Equal(t, 1, runner.attempts)
}

func TestSupervisor_Spawn_DelegationDepthExceeded(t *testing.T) {
	repo := newTestRepo(t)
	st := newTestStore(t)
	b := bus.New(16)
	runner := &fakeRunner{}
	sup := New(st, b, NewWorktreeManager(repo), runner)
	run := newRunAndTask(t, st)

	_, err := sup.Spawn(context.Background(), SpawnRequest{
		RunID: run.ID, Name: "worker-1", BaseRef: "main",
		CurrentDepth: 2,
		Contract:     policy.DelegationContract{MaySpawnChildren: true, MaxDelegationDepth: 2},
		MaxAttempts:  1,
	})
	require.Error(t, err)
	assert.Equal(t, 0, runner.attempts, "depth check must short-circuit before running anything")
}

func TestSupervisor_Spawn_ForbiddenWhenContractDisallows(t *testing.T) {
	repo := newTestRepo(t)
	st := newTestStore(t)
	b := bus.New(16)
	runner := &fakeRunner{}
	sup := New(st, b, NewWorktreeManager(repo), runner)
	run := newRunAndTask(t, st)

	_, err := sup.Spawn(context.Background(), SpawnRequest{
		RunID: run.ID, Name: "worker-1", BaseRef: "main",
		Contract:    policy.DelegationContract{MaySpawnChildren: false},
		MaxAttempts: 1,
	})
	require.Error(t, err)
}

func TestSupervisor_Spawn_RetriesOnFailureThenFails(t *testing.T) {
	repo := newTestRepo(t)
	st := newTestStore(t)
	b := bus.New(16)
	runner := &fakeRunner{err: assertErr("agent crashed")}
	sup := New(st, b, NewWorktreeManager(repo), runner)
	run := newRunAndTask(t, st)

	sa, err := sup.Spawn(context.Background(), SpawnRequest{
		RunID: run.ID, Name: "worker-1", BaseRef: "main",
		Contract:     policy.DelegationContract{MaySpawnChildren: true, MaxDelegationDepth: 1},
		MaxAttempts:  3,
	})
	require.Error(t, err)
	assert.Equal(t, model.SubAgentFailed, sa.Status)
	assert.Equal(t, 3, runner.attempts)
}

func TestDiffSummary_ProducesOutput(t *testing.T) {
	out := DiffSummary("hello world", "hello there")
	assert.NotEmpty(t, out)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
