// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists the orchestrator's domain model in SQLite,
// applying numbered append-only migrations and offering cascading
// deletes across the full entity graph rooted at Task.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
)

// Store wraps a SQLite connection opened in WAL mode with foreign keys
// enabled. Writes are serialized at the connection-pool level by
// restricting it to a single open connection (mirrors the teacher's
// "concurrency handled by database-level locking" approach in
// v2/session/store.go, made explicit here since WAL still allows the
// Go sql.DB pool to attempt concurrent writers otherwise).
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if necessary) a SQLite database at path and
// applies any pending migrations.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, orcherr.New(orcherr.Config, "store", "open", "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, orcherr.New(orcherr.Config, "store", "migrate", "failed to apply migrations", err)
	}
	log.Info("store opened", "path", path)
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSON(s string, v any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

// --- Task ---

// CreateTask inserts a new task row.
func (s *Store) CreateTask(t model.Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, prompt, status, parent_task_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Prompt, string(t.Status), t.ParentTaskID, marshalJSON(t.Metadata), t.CreatedAt, t.UpdatedAt,
	)
	return wrapErr("store", "create_task", err)
}

// UpdateTaskStatus mutates a task's status and updated_at timestamp.
func (s *Store) UpdateTaskStatus(id string, status model.TaskStatus, at time.Time) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), at, id)
	return wrapErr("store", "update_task_status", err)
}

// GetTask fetches one task by id.
func (s *Store) GetTask(id string) (model.Task, error) {
	row := s.db.QueryRow(`SELECT id, prompt, status, parent_task_id, metadata, created_at, updated_at FROM tasks WHERE id = ?`, id)
	var t model.Task
	var meta string
	if err := row.Scan(&t.ID, &t.Prompt, &t.Status, &t.ParentTaskID, &meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return model.Task{}, wrapErr("store", "get_task", err)
	}
	t.Metadata = map[string]any{}
	unmarshalJSON(meta, &t.Metadata)
	return t, nil
}

// DeleteTaskCascade removes a task and, via ON DELETE CASCADE, every run,
// step, tool call, sub-agent, worktree log, artifact, event and checkpoint
// that references it or one of its runs.
func (s *Store) DeleteTaskCascade(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return wrapErr("store", "delete_task_cascade", err)
}

// --- Run ---

// CreateRun inserts a new run row with the status set on r.
func (s *Store) CreateRun(r model.Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, task_id, status, plan_artifact, failure_reason, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, string(r.Status), r.PlanArtifact, r.FailureReason, r.StartedAt, r.EndedAt,
	)
	return wrapErr("store", "create_run", err)
}

// UpdateRunStatus transitions a run's status, optionally recording a
// failure reason and end timestamp.
func (s *Store) UpdateRunStatus(id string, status model.RunStatus, failureReason string, endedAt *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, failure_reason = ?, ended_at = ? WHERE id = ?`,
		string(status), failureReason, endedAt, id,
	)
	return wrapErr("store", "update_run_status", err)
}

// SetPlanArtifact records the plan blob produced by the plan phase.
func (s *Store) SetPlanArtifact(runID string, plan []byte) error {
	_, err := s.db.Exec(`UPDATE runs SET plan_artifact = ? WHERE id = ?`, plan, runID)
	return wrapErr("store", "set_plan_artifact", err)
}

// GetRun fetches one run by id.
func (s *Store) GetRun(id string) (model.Run, error) {
	row := s.db.QueryRow(`SELECT id, task_id, status, plan_artifact, failure_reason, started_at, ended_at FROM runs WHERE id = ?`, id)
	var r model.Run
	if err := row.Scan(&r.ID, &r.TaskID, &r.Status, &r.PlanArtifact, &r.FailureReason, &r.StartedAt, &r.EndedAt); err != nil {
		return model.Run{}, wrapErr("store", "get_run", err)
	}
	return r, nil
}

// ListNonTerminalRuns returns every run whose status is not yet terminal,
// used by Recovery at startup.
func (s *Store) ListNonTerminalRuns() ([]model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, status, plan_artifact, failure_reason, started_at, ended_at
		 FROM runs WHERE status IN (?, ?)`,
		string(model.RunQueued), string(model.RunRunning),
	)
	if err != nil {
		return nil, wrapErr("store", "list_non_terminal_runs", err)
	}
	defer rows.Close()
	var out []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Status, &r.PlanArtifact, &r.FailureReason, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, wrapErr("store", "list_non_terminal_runs", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Step ---

// CreateStep inserts a new step row.
func (s *Store) CreateStep(st model.Step) error {
	_, err := s.db.Exec(
		`INSERT INTO steps (id, run_id, idx, title, description, tool_intent, status, max_retries, result, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.RunID, st.Index, st.Title, st.Description, st.ToolIntent, string(st.Status), st.MaxRetries, st.Result, st.StartedAt, st.EndedAt,
	)
	return wrapErr("store", "create_step", err)
}

// UpdateStepStatus transitions a step's status and optionally records its
// result blob and timestamps.
func (s *Store) UpdateStepStatus(id string, status model.StepStatus, result []byte, startedAt, endedAt *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE steps SET status = ?, result = ?, started_at = COALESCE(?, started_at), ended_at = ? WHERE id = ?`,
		string(status), result, startedAt, endedAt, id,
	)
	return wrapErr("store", "update_step_status", err)
}

// ListSteps returns every step of a run ordered by index.
func (s *Store) ListSteps(runID string) ([]model.Step, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, idx, title, description, tool_intent, status, max_retries, result, started_at, ended_at
		 FROM steps WHERE run_id = ? ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, wrapErr("store", "list_steps", err)
	}
	defer rows.Close()
	var out []model.Step
	for rows.Next() {
		var st model.Step
		if err := rows.Scan(&st.ID, &st.RunID, &st.Index, &st.Title, &st.Description, &st.ToolIntent, &st.Status, &st.MaxRetries, &st.Result, &st.StartedAt, &st.EndedAt); err != nil {
			return nil, wrapErr("store", "list_steps", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- SubAgent ---

// CreateSubAgent inserts a new sub-agent row.
func (s *Store) CreateSubAgent(sa model.SubAgent) error {
	_, err := s.db.Exec(
		`INSERT INTO sub_agents (id, run_id, step_index, name, status, worktree_path, delegation_depth, branch_name, merge_status, context_blob, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sa.ID, sa.RunID, sa.StepIndex, sa.Name, string(sa.Status), sa.WorktreePath, sa.DelegationDepth, sa.BranchName, sa.MergeStatus, sa.ContextBlob, sa.Error, sa.CreatedAt, sa.UpdatedAt,
	)
	return wrapErr("store", "create_sub_agent", err)
}

// UpdateSubAgentStatus transitions a sub-agent's status.
func (s *Store) UpdateSubAgentStatus(id string, status model.SubAgentStatus, errMsg string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sub_agents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, at, id,
	)
	return wrapErr("store", "update_sub_agent_status", err)
}

// ListRunningSubAgents returns sub-agents of a run currently in `running`.
func (s *Store) ListRunningSubAgents(runID string) ([]model.SubAgent, error) {
	return s.listSubAgentsByStatus(runID, model.SubAgentRunning)
}

func (s *Store) listSubAgentsByStatus(runID string, status model.SubAgentStatus) ([]model.SubAgent, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, step_index, name, status, worktree_path, delegation_depth, branch_name, merge_status, context_blob, error, created_at, updated_at
		 FROM sub_agents WHERE run_id = ? AND status = ?`, runID, string(status))
	if err != nil {
		return nil, wrapErr("store", "list_sub_agents", err)
	}
	defer rows.Close()
	var out []model.SubAgent
	for rows.Next() {
		var sa model.SubAgent
		if err := rows.Scan(&sa.ID, &sa.RunID, &sa.StepIndex, &sa.Name, &sa.Status, &sa.WorktreePath, &sa.DelegationDepth, &sa.BranchName, &sa.MergeStatus, &sa.ContextBlob, &sa.Error, &sa.CreatedAt, &sa.UpdatedAt); err != nil {
			return nil, wrapErr("store", "list_sub_agents", err)
		}
		out = append(out, sa)
	}
	return out, rows.Err()
}

// GetSubAgent fetches one sub-agent by id.
func (s *Store) GetSubAgent(id string) (model.SubAgent, error) {
	row := s.db.QueryRow(
		`SELECT id, run_id, step_index, name, status, worktree_path, delegation_depth, branch_name, merge_status, context_blob, error, created_at, updated_at
		 FROM sub_agents WHERE id = ?`, id)
	var sa model.SubAgent
	if err := row.Scan(&sa.ID, &sa.RunID, &sa.StepIndex, &sa.Name, &sa.Status, &sa.WorktreePath, &sa.DelegationDepth, &sa.BranchName, &sa.MergeStatus, &sa.ContextBlob, &sa.Error, &sa.CreatedAt, &sa.UpdatedAt); err != nil {
		return model.SubAgent{}, wrapErr("store", "get_sub_agent", err)
	}
	return sa, nil
}

// SetSubAgentContext persists the serialized context blob a sub-agent's
// worker loop needs to resume or start running.
func (s *Store) SetSubAgentContext(id string, blob []byte) error {
	_, err := s.db.Exec(`UPDATE sub_agents SET context_blob = ? WHERE id = ?`, blob, id)
	return wrapErr("store", "set_sub_agent_context", err)
}

// --- ToolCall ---

// CreateToolCall inserts a tool call row with the status set on tc.
func (s *Store) CreateToolCall(tc model.ToolCall) error {
	_, err := s.db.Exec(
		`INSERT INTO tool_calls (id, run_id, step_index, sub_agent_id, tool_name, input, output, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.RunID, tc.StepIndex, tc.SubAgentID, tc.ToolName, tc.Input, tc.Output, string(tc.Status), tc.Error, tc.StartedAt, tc.FinishedAt,
	)
	return wrapErr("store", "create_tool_call", err)
}

// UpdateToolCallStatus transitions a tool call's status, recording output
// or error and the finished timestamp for terminal states.
func (s *Store) UpdateToolCallStatus(id string, status model.ToolCallStatus, output []byte, errMsg string, finishedAt *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE tool_calls SET status = ?, output = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), output, errMsg, finishedAt, id,
	)
	return wrapErr("store", "update_tool_call_status", err)
}

// --- Messages ---

// CreateAgentMessage inserts an assistant-side chat record.
func (s *Store) CreateAgentMessage(m model.AgentMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_messages (id, run_id, task_id, role, content, reasoning, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RunID, m.TaskID, string(m.Role), m.Content, m.Reasoning, m.TokenCount, m.CreatedAt,
	)
	return wrapErr("store", "create_agent_message", err)
}

// CreateUserMessage inserts an operator-submitted chat record.
func (s *Store) CreateUserMessage(m model.UserMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO user_messages (id, run_id, task_id, content, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.RunID, m.TaskID, m.Content, m.TokenCount, m.CreatedAt,
	)
	return wrapErr("store", "create_user_message", err)
}

// ListAgentMessages returns every assistant message recorded for a run, in
// insertion order, used to rehydrate a worker loop's history on resume.
func (s *Store) ListAgentMessages(runID string) ([]model.AgentMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, task_id, role, content, reasoning, token_count, created_at
		 FROM agent_messages WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, wrapErr("store", "list_agent_messages", err)
	}
	defer rows.Close()
	var out []model.AgentMessage
	for rows.Next() {
		var m model.AgentMessage
		if err := rows.Scan(&m.ID, &m.RunID, &m.TaskID, &m.Role, &m.Content, &m.Reasoning, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, wrapErr("store", "list_agent_messages", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Artifact ---

// CreateArtifact inserts a new artifact row.
func (s *Store) CreateArtifact(a model.Artifact) error {
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, run_id, kind, uri_or_body, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RunID, string(a.Kind), a.URIOrBody, marshalJSON(a.Metadata), a.CreatedAt,
	)
	return wrapErr("store", "create_artifact", err)
}

// ListArtifacts returns every artifact produced by a run.
func (s *Store) ListArtifacts(runID string) ([]model.Artifact, error) {
	rows, err := s.db.Query(`SELECT id, run_id, kind, uri_or_body, metadata, created_at FROM artifacts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, wrapErr("store", "list_artifacts", err)
	}
	defer rows.Close()
	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var meta string
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.URIOrBody, &meta, &a.CreatedAt); err != nil {
			return nil, wrapErr("store", "list_artifacts", err)
		}
		a.Metadata = map[string]any{}
		unmarshalJSON(meta, &a.Metadata)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Event ---

// AppendEvent persists one event row. Events are append-only; there is no
// update or delete operation other than cascade from a run's deletion.
func (s *Store) AppendEvent(e model.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (id, run_id, seq, category, event_type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Seq, string(e.Category), e.Type, marshalJSON(e.Payload), e.CreatedAt,
	)
	return wrapErr("store", "append_event", err)
}

// ListEvents returns every event recorded for a run, in seq order.
func (s *Store) ListEvents(runID string) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, seq, category, event_type, payload, created_at FROM events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, wrapErr("store", "list_events", err)
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var e model.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Category, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, wrapErr("store", "list_events", err)
		}
		e.Payload = map[string]any{}
		unmarshalJSON(payload, &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Checkpoint ---

// UpsertCheckpoint writes or replaces the single checkpoint row for a run.
// Callers must ensure last_step_index is non-decreasing (invariant (f));
// this method enforces it defensively with a guarded UPDATE-or-INSERT.
func (s *Store) UpsertCheckpoint(cp model.Checkpoint) error {
	res, err := s.db.Exec(
		`UPDATE checkpoints SET last_step_index = ?, runtime_state = ?, updated_at = ?
		 WHERE run_id = ? AND last_step_index <= ?`,
		cp.LastStepIndex, cp.RuntimeState, cp.UpdatedAt, cp.RunID, cp.LastStepIndex,
	)
	if err != nil {
		return wrapErr("store", "upsert_checkpoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("store", "upsert_checkpoint", err)
	}
	if n > 0 {
		return nil
	}
	// No existing row updated: either it doesn't exist yet, or it exists
	// with a higher last_step_index (which we must not regress).
	_, err = s.db.Exec(
		`INSERT INTO checkpoints (run_id, last_step_index, runtime_state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		cp.RunID, cp.LastStepIndex, cp.RuntimeState, cp.UpdatedAt,
	)
	return wrapErr("store", "upsert_checkpoint", err)
}

// GetCheckpoint fetches the checkpoint for a run, if any.
func (s *Store) GetCheckpoint(runID string) (model.Checkpoint, bool, error) {
	row := s.db.QueryRow(`SELECT run_id, last_step_index, runtime_state, updated_at FROM checkpoints WHERE run_id = ?`, runID)
	var cp model.Checkpoint
	if err := row.Scan(&cp.RunID, &cp.LastStepIndex, &cp.RuntimeState, &cp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, wrapErr("store", "get_checkpoint", err)
	}
	return cp, true, nil
}

// --- Approval Request ---

// CreateApprovalRequest inserts a pending approval request.
func (s *Store) CreateApprovalRequest(r model.ApprovalRequest) error {
	_, err := s.db.Exec(
		`INSERT INTO approval_requests (id, tool_call_id, scope, reason, created_at, decider, decision, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ToolCallID, string(r.Scope), r.Reason, r.CreatedAt, r.Decider, r.Decision, r.ResolvedAt,
	)
	return wrapErr("store", "create_approval_request", err)
}

// ResolveApprovalRequest records the decision for a pending request.
func (s *Store) ResolveApprovalRequest(id string, decider string, decision model.ApprovalDecision, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE approval_requests SET decider = ?, decision = ?, resolved_at = ? WHERE id = ?`,
		decider, string(decision), at, id,
	)
	return wrapErr("store", "resolve_approval_request", err)
}

func wrapErr(component, op string, err error) error {
	if err == nil {
		return nil
	}
	return orcherr.New(orcherr.Config, component, op, "store operation failed", err)
}
