package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetails(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, err := parseDetails(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("pairs", func(t *testing.T) {
		got, err := parseDetails([]string{"review_id=7", "note=a=b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"review_id": "7", "note": "a=b"}, got)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseDetails([]string{"review_id"})
		require.Error(t, err)
		_, err = parseDetails([]string{"=7"})
		require.Error(t, err)
	})
}

func TestCommandsHaveUniqueNames(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range allCommands() {
		assert.False(t, seen[c.Name], "duplicate command %s", c.Name)
		seen[c.Name] = true
		assert.NotNil(t, c.Action, c.Name)
	}
	assert.Len(t, seen, 13)
}
