package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenCounter_CountsKnownModel(t *testing.T) {
	tc := NewTokenCounter("gpt-4")
	n := tc.Count("hello world")
	assert.Greater(t, n, 0)
}

func TestTokenCounter_FallsBackForUnknownModel(t *testing.T) {
	tc := NewTokenCounter("totally-unknown-model-xyz")
	n := tc.Count("hello world")
	assert.Greater(t, n, 0)
}

func TestTokenCounter_NilReceiverFallsBackToEstimate(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, len("hello world")/4, tc.Count("hello world"))
}

func TestTokenCounter_CachesEncodingAcrossInstances(t *testing.T) {
	a := NewTokenCounter("gpt-4")
	b := NewTokenCounter("gpt-4")
	assert.Equal(t, a.Count("same text"), b.Count("same text"))
}
