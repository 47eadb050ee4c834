// Package model defines the persisted domain entities of the orchestrator:
// Task, Run, Step, SubAgent, ToolCall, messages, artifacts, events and
// checkpoints, plus the invariants the rest of the system relies on.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// TaskStatus is the lifecycle of a user-submitted objective.
type TaskStatus string

const (
	TaskPending          TaskStatus = "pending"
	TaskPlanning         TaskStatus = "planning"
	TaskAwaitingApproval TaskStatus = "awaiting-approval"
	TaskBuilding         TaskStatus = "building"
	TaskCompleted        TaskStatus = "completed"
	TaskCancelled        TaskStatus = "cancelled"
	TaskFailed           TaskStatus = "failed"
)

// Task is a user-submitted objective. Status is mutated only by the
// Orchestrator that owns the task's live run.
type Task struct {
	ID           string
	Prompt       string
	Status       TaskStatus
	ParentTaskID *string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskLink is an undirected reference between two tasks. SourceID < TargetID
// is enforced by NewTaskLink so a pair of tasks can never have duplicate
// edges regardless of argument order.
type TaskLink struct {
	SourceID string
	TargetID string
}

// NewTaskLink orders the two ids so (a, b) and (b, a) produce the same link.
func NewTaskLink(a, b string) TaskLink {
	if a < b {
		return TaskLink{SourceID: a, TargetID: b}
	}
	return TaskLink{SourceID: b, TargetID: a}
}

// RunStatus is the lifecycle of one execution attempt of a Task.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is one execution attempt of a Task. A task has at most one live
// (non-terminal) run at a time; prior runs are retained for audit.
type Run struct {
	ID            string
	TaskID        string
	Status        RunStatus
	PlanArtifact  []byte
	FailureReason string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// StepStatus is the lifecycle of one plan element.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is an element of a Run's plan. Steps are never reordered after
// creation; Index is dense and 0-based within a run.
type Step struct {
	ID         string
	RunID      string
	Index      int
	Title      string
	Description string
	ToolIntent string
	Status     StepStatus
	MaxRetries int
	Result     []byte
	StartedAt  *time.Time
	EndedAt    *time.Time
}

// SubAgentStatus is the lifecycle of a spawned child worker.
type SubAgentStatus string

const (
	SubAgentQueued        SubAgentStatus = "queued"
	SubAgentRunning       SubAgentStatus = "running"
	SubAgentFailed        SubAgentStatus = "failed"
	SubAgentCompleted     SubAgentStatus = "completed"
	SubAgentAwaitingMerge SubAgentStatus = "awaiting-merge"
	SubAgentClosed        SubAgentStatus = "closed"
)

// Terminal reports whether status admits no further transition. Closed is
// terminal by design: a closed sub-agent can never resume, only a new
// spawn can continue the work (see DESIGN.md Open Question 1).
func (s SubAgentStatus) Terminal() bool {
	return s == SubAgentClosed
}

// SubAgent is a spawned child worker scoped to one step of a run.
type SubAgent struct {
	ID               string
	RunID            string
	StepIndex        int
	Name             string
	Status           SubAgentStatus
	WorktreePath     string
	DelegationDepth  int
	BranchName       string
	MergeStatus      string
	ContextBlob      []byte
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WorktreeLog records the lifecycle of one isolated working copy.
type WorktreeLog struct {
	ID               string
	SubAgentID       string
	Strategy         string
	Branch           string
	BaseRef          string
	Path             string
	MergeStrategy    string
	MergeOutcome     string
	ConflictedPaths  []string
	CreatedAt        time.Time
	MergedAt         *time.Time
	CleanedAt        *time.Time
}

// ToolCallStatus is the lifecycle of one tool invocation.
type ToolCallStatus string

const (
	ToolCallPending          ToolCallStatus = "pending"
	ToolCallRunning          ToolCallStatus = "running"
	ToolCallSucceeded        ToolCallStatus = "succeeded"
	ToolCallFailed           ToolCallStatus = "failed"
	ToolCallDenied           ToolCallStatus = "denied"
	ToolCallAwaitingApproval ToolCallStatus = "awaiting-approval"
)

// ToolCall is one tool invocation made by a sub-agent during a step.
type ToolCall struct {
	ID         string
	RunID      string
	StepIndex  int
	SubAgentID string
	ToolName   string
	Input      []byte
	Output     []byte
	Status     ToolCallStatus
	Error      string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// MessageRole distinguishes chat participants.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// AgentMessage is a chat record produced by a worker during a run.
type AgentMessage struct {
	ID         string
	RunID      string
	TaskID     string
	Role       MessageRole
	Content    string
	Reasoning  string
	TokenCount int
	CreatedAt  time.Time
}

// UserMessage is a chat record submitted by the human operator.
type UserMessage struct {
	ID         string
	RunID      string
	TaskID     string
	Content    string
	TokenCount int
	CreatedAt  time.Time
}

// ArtifactKind is a closed set of produced-output categories.
type ArtifactKind string

const (
	ArtifactFile   ArtifactKind = "file"
	ArtifactPlan   ArtifactKind = "plan"
	ArtifactReport ArtifactKind = "report"
	ArtifactData   ArtifactKind = "data"
	ArtifactNotes  ArtifactKind = "notes"
)

// Artifact is a produced output of a run.
type Artifact struct {
	ID         string
	RunID      string
	Kind       ArtifactKind
	URIOrBody  string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// EventCategory is the closed set of UI-facing event categories.
type EventCategory string

const (
	CategoryTask     EventCategory = "task"
	CategoryAgent    EventCategory = "agent"
	CategoryTool     EventCategory = "tool"
	CategoryUser     EventCategory = "user"
	CategoryArtifact EventCategory = "artifact"
	CategoryLog      EventCategory = "log"
)

// Event is one append-only, insertion-ordered record broadcast by the bus
// and persisted by the Store.
type Event struct {
	ID        string
	RunID     *string
	Seq       uint64
	Category  EventCategory
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

// Checkpoint is the last durably recorded progress of a run. There is one
// row per live run, upserted after each material step; LastStepIndex never
// decreases (invariant (f)).
type Checkpoint struct {
	RunID          string
	LastStepIndex  int
	RuntimeState   []byte
	UpdatedAt      time.Time
}

// ApprovalScope is a closed classification of why an approval is required.
type ApprovalScope string

const (
	ScopeRead        ApprovalScope = "read"
	ScopeWrite       ApprovalScope = "write"
	ScopeShell       ApprovalScope = "shell"
	ScopeNetwork     ApprovalScope = "network"
	ScopeDestructive ApprovalScope = "destructive"
)

// ApprovalDecision is the resolution of an ApprovalRequest.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionDenied   ApprovalDecision = "denied"
	DecisionExpired  ApprovalDecision = "expired"
)

// ApprovalRequest is a pending-or-resolved human-in-the-loop gate on a
// ToolCall.
type ApprovalRequest struct {
	ID          string
	ToolCallID  string
	Scope       ApprovalScope
	Reason      string
	CreatedAt   time.Time
	Decider     string
	Decision    *ApprovalDecision
	ResolvedAt  *time.Time
}
