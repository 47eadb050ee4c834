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

package store

import (
	"database/sql"
	"fmt"
)

// migration is one numbered, append-only schema change. A migration is
// never edited after release; new schema changes always add a new one.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "init", schemaV1},
}

const schemaV1 = `
CREATE TABLE tasks (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	parent_task_id TEXT REFERENCES tasks(id) ON DELETE CASCADE,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE task_links (
	source_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	target_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	PRIMARY KEY (source_id, target_id)
);

CREATE TABLE runs (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	plan_artifact BLOB,
	failure_reason TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP
);
CREATE INDEX idx_runs_task ON runs(task_id);

CREATE TABLE steps (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tool_intent TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	max_retries INTEGER NOT NULL DEFAULT 0,
	result BLOB,
	started_at TIMESTAMP,
	ended_at TIMESTAMP,
	UNIQUE (run_id, idx)
);
CREATE INDEX idx_steps_run ON steps(run_id);

CREATE TABLE sub_agents (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step_index INTEGER NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	worktree_path TEXT NOT NULL DEFAULT '',
	delegation_depth INTEGER NOT NULL DEFAULT 0,
	branch_name TEXT NOT NULL DEFAULT '',
	merge_status TEXT NOT NULL DEFAULT '',
	context_blob BLOB,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_subagents_run ON sub_agents(run_id);

CREATE TABLE worktree_logs (
	id TEXT PRIMARY KEY,
	sub_agent_id TEXT NOT NULL REFERENCES sub_agents(id) ON DELETE CASCADE,
	strategy TEXT NOT NULL,
	branch TEXT NOT NULL,
	base_ref TEXT NOT NULL,
	path TEXT NOT NULL,
	merge_strategy TEXT NOT NULL DEFAULT '',
	merge_outcome TEXT NOT NULL DEFAULT '',
	conflicted_paths TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	merged_at TIMESTAMP,
	cleaned_at TIMESTAMP
);
CREATE INDEX idx_worktreelogs_subagent ON worktree_logs(sub_agent_id);

CREATE TABLE tool_calls (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step_index INTEGER NOT NULL,
	sub_agent_id TEXT REFERENCES sub_agents(id) ON DELETE CASCADE,
	tool_name TEXT NOT NULL,
	input BLOB,
	output BLOB,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP,
	finished_at TIMESTAMP
);
CREATE INDEX idx_toolcalls_run ON tool_calls(run_id);

CREATE TABLE agent_messages (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	reasoning TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_agentmessages_run ON agent_messages(run_id);

CREATE TABLE user_messages (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_usermessages_run ON user_messages(run_id);

CREATE TABLE artifacts (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	uri_or_body TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_artifacts_run ON artifacts(run_id);

CREATE TABLE events (
	id TEXT PRIMARY KEY,
	run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	category TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_events_run ON events(run_id);
CREATE UNIQUE INDEX idx_events_seq ON events(seq);

CREATE TABLE checkpoints (
	run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	last_step_index INTEGER NOT NULL,
	runtime_state BLOB,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE approval_requests (
	id TEXT PRIMARY KEY,
	tool_call_id TEXT NOT NULL REFERENCES tool_calls(id) ON DELETE CASCADE,
	scope TEXT NOT NULL,
	reason TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	decider TEXT NOT NULL DEFAULT '',
	decision TEXT,
	resolved_at TIMESTAMP
);
CREATE INDEX idx_approvals_toolcall ON approval_requests(tool_call_id);
`

// applyMigrations runs every migration whose version is not yet present
// in schema_version, each inside its own transaction with the version
// row inserted in that same transaction.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query(`SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("query schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
