package orcherr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ErrorStringWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(AdapterRequest, "provider", "complete", "request failed", cause)
	assert.Equal(t, "provider.complete: request failed: connection refused", err.Error())
}

func TestError_ErrorStringWithoutCause(t *testing.T) {
	err := New(PolicyDenied, "worker", "dispatch", "scope denied", nil)
	assert.Equal(t, "worker.dispatch: scope denied", err.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(ToolExecution, "registry", "dispatch", "tool failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIs_MatchesKind(t *testing.T) {
	err := New(RateLimit, "provider", "complete", "429", nil)
	assert.True(t, Is(err, RateLimit))
	assert.False(t, Is(err, Auth))
}

func TestIs_NonOrchErr(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), Config))
}

func TestKindOf(t *testing.T) {
	err := New(BudgetExhausted, "orchestrator", "run", "retries exhausted", nil)
	assert.Equal(t, BudgetExhausted, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestIsControlFlow(t *testing.T) {
	assert.True(t, IsControlFlow(New(ApprovalRequired, "worker", "dispatch", "", nil)))
	assert.True(t, IsControlFlow(New(Cancellation, "worker", "dispatch", "", nil)))
	assert.False(t, IsControlFlow(New(ToolExecution, "worker", "dispatch", "", nil)))
	assert.False(t, IsControlFlow(errors.New("plain")))
}

func TestError_WrappedThroughStandardErrorsAs(t *testing.T) {
	wrapped := errors.New("outer: " + New(Auth, "provider", "complete", "401", nil).Error())
	assert.False(t, Is(wrapped, Auth), "string-wrapped errors should not satisfy errors.As")
}
