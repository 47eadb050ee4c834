// Package policy classifies tool calls into allow/deny/approve decisions
// based on an agent's permission set and the delegation contract its
// parent passed down, per spec.md §4.4.
package policy

import "fmt"

// Scope is a closed classification of what kind of effect a tool call has.
type Scope string

const (
	ScopeRead        Scope = "read"
	ScopeWrite       Scope = "write"
	ScopeShell       Scope = "shell"
	ScopeNetwork     Scope = "network"
	ScopeDestructive Scope = "destructive"
)

// Decision is the outcome of evaluating a tool call against policy.
type Decision int

const (
	Allow Decision = iota
	Deny
	Approve
)

// Verdict is the full result of a policy evaluation.
type Verdict struct {
	Decision Decision
	Scope    Scope
	Reason   string
}

// Permission is the set of scopes an agent (or sub-agent) is allowed to
// exercise without approval, plus which ones it can never exercise at all.
type Permission struct {
	// AllowedScopes may be exercised without approval.
	AllowedScopes map[Scope]bool
	// ApprovalScopes require a human decision via the Approval Gateway.
	ApprovalScopes map[Scope]bool
	// DeniedScopes are never permitted, regardless of tool.
	DeniedScopes map[Scope]bool
}

// DelegationContract is what a parent agent hands a spawned child,
// narrowing what the child may do.
type DelegationContract struct {
	AllowedTools     map[string]bool // empty/nil means "inherit all"
	MaySpawnChildren bool
	MaxDelegationDepth int
}

// DelegationError is returned by ValidateDelegation when a delegation
// contract rejects a spawn: the contract forbids spawning children, or the
// current depth has reached MaxDelegationDepth. AllowedTools is not
// consulted by ValidateDelegation.
type DelegationError struct {
	Reason string
}

func (e *DelegationError) Error() string { return e.Reason }

// ValidateDelegation checks a spawn request against the contract the
// parent passed down.
func ValidateDelegation(currentDepth int, contract DelegationContract) error {
	if !contract.MaySpawnChildren {
		return &DelegationError{Reason: "delegation contract forbids spawning children"}
	}
	if currentDepth >= contract.MaxDelegationDepth {
		return &DelegationError{Reason: fmt.Sprintf("delegation depth %d exceeds max %d", currentDepth, contract.MaxDelegationDepth)}
	}
	return nil
}

// Engine evaluates tool calls against a Permission.
type Engine struct {
	perm Permission
}

// New creates an Engine bound to a derived permission set.
func New(perm Permission) *Engine {
	return &Engine{perm: perm}
}

// Evaluate classifies one tool call. toolName and args are informational
// only in this reference implementation; scope is the sole classifier
// input, matching spec.md §4.4's "tool name, normalized arguments, and
// the invoking sub-agent's permission set" input shape (args are reserved
// for future per-argument policy, e.g. path allow-lists).
func (e *Engine) Evaluate(toolName string, args map[string]any, scope Scope) Verdict {
	if e.perm.DeniedScopes[scope] {
		return Verdict{Decision: Deny, Scope: scope, Reason: fmt.Sprintf("scope %q is denied for this agent", scope)}
	}
	if e.perm.ApprovalScopes[scope] {
		return Verdict{Decision: Approve, Scope: scope, Reason: fmt.Sprintf("scope %q requires approval", scope)}
	}
	if e.perm.AllowedScopes[scope] {
		return Verdict{Decision: Allow, Scope: scope}
	}
	// Default-deny: an unrecognized/unlisted scope is never silently
	// allowed.
	return Verdict{Decision: Deny, Scope: scope, Reason: fmt.Sprintf("scope %q is not in this agent's permission set", scope)}
}
