package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Greater(t, counter.CountTokens("the supervisor approved three actions"), 0)

	long := counter.CountTokens("a much longer transcript with many more words in it than the short one")
	short := counter.CountTokens("short")
	assert.Greater(t, long, short)
}

func TestCountTokens_NilCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, 5, counter.CountTokens("12345678901234567890"))
}
