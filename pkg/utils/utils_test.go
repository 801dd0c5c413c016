package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Positive(t, tc.CountTokens("hello world"))

	long := strings.Repeat("some moderately sized sentence about code changes. ", 50)
	short := "hi"
	assert.Greater(t, tc.CountTokens(long), tc.CountTokens(short))
}

func TestValidateTokenLimit(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.True(t, tc.ValidateTokenLimit("short", 100))
	long := strings.Repeat("word ", 1000)
	assert.False(t, tc.ValidateTokenLimit(long, 10))
}

func TestTruncateToTokenLimit(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	short := "untouched"
	assert.Equal(t, short, tc.TruncateToTokenLimit(short, 100))

	long := strings.Repeat("word ", 1000)
	truncated := tc.TruncateToTokenLimit(long, 50)
	assert.Less(t, len(truncated), len(long))
	assert.True(t, strings.HasSuffix(truncated, "..."))
}

func TestTruncateToTokenLimitKeepsRunesIntact(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	long := strings.Repeat("héllo wörld 日本語 ", 500)
	for _, limit := range []int{1, 5, 17, 63, 200} {
		truncated := tc.TruncateToTokenLimit(long, limit)
		assert.True(t, utf8.ValidString(truncated),
			"limit %d produced invalid UTF-8", limit)
	}

	// The character-estimate fallback trims to a rune boundary too.
	fallback := &TokenCounter{}
	truncated := fallback.TruncateToTokenLimit(strings.Repeat("日本語", 400), 13)
	assert.True(t, utf8.ValidString(truncated))
	assert.True(t, strings.HasSuffix(truncated, "..."))
}

func TestNewRunID(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", ShortID("123456789abc"))
	assert.Equal(t, "short", ShortID("short"))
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "devflow/deadbeef", BranchName("deadbeef-0000-1111-2222-333344445555"))
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"has:colon", "has-colon"},
		{"has space", "has-space"},
		{"has/slash", "has-slash"},
		{`has\backslash`, "has-backslash"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeIdentifier(tt.in))
	}
}
