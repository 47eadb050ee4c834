package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Evaluate_Allow(t *testing.T) {
	e := New(Permission{AllowedScopes: map[Scope]bool{ScopeRead: true}})
	v := e.Evaluate("fs.read", nil, ScopeRead)
	assert.Equal(t, Allow, v.Decision)
	assert.Equal(t, ScopeRead, v.Scope)
}

func TestEngine_Evaluate_Approve(t *testing.T) {
	e := New(Permission{ApprovalScopes: map[Scope]bool{ScopeDestructive: true}})
	v := e.Evaluate("shell.exec", nil, ScopeDestructive)
	assert.Equal(t, Approve, v.Decision)
	assert.NotEmpty(t, v.Reason)
}

func TestEngine_Evaluate_DeniedScopeWinsOverApproval(t *testing.T) {
	e := New(Permission{
		DeniedScopes:   map[Scope]bool{ScopeShell: true},
		ApprovalScopes: map[Scope]bool{ScopeShell: true},
	})
	v := e.Evaluate("shell.exec", nil, ScopeShell)
	assert.Equal(t, Deny, v.Decision)
}

func TestEngine_Evaluate_DefaultDenyUnlistedScope(t *testing.T) {
	e := New(Permission{AllowedScopes: map[Scope]bool{ScopeRead: true}})
	v := e.Evaluate("network.fetch", nil, ScopeNetwork)
	assert.Equal(t, Deny, v.Decision)
}

func TestValidateDelegation_ForbidsWhenContractDisallows(t *testing.T) {
	err := ValidateDelegation(0, DelegationContract{MaySpawnChildren: false})
	require.Error(t, err)
	var delegErr *DelegationError
	require.ErrorAs(t, err, &delegErr)
}

func TestValidateDelegation_DepthAtLimit(t *testing.T) {
	contract := DelegationContract{MaySpawnChildren: true, MaxDelegationDepth: 2}
	require.NoError(t, ValidateDelegation(1, contract))
	require.Error(t, ValidateDelegation(2, contract))
}
