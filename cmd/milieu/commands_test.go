package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitLines(t *testing.T) {
	t.Parallel()
	require.Nil(t, splitLines(nil))
	require.Equal(t, []string{"A=1"}, splitLines([]byte("A=1\n")))
	require.Equal(t, []string{"A=1", "B=2"}, splitLines([]byte("A=1\nB=2\n")))
	require.Equal(t, []string{"A=1", "B=2"}, splitLines([]byte("A=1\nB=2")))
}

func TestRootCommand_HasFullSurface(t *testing.T) {
	t.Parallel()
	root := newRootCmd()
	want := []string{
		"register", "login", "logout", "init", "clone", "add", "remove",
		"push", "pull", "status", "changes", "log", "checkout", "branch",
		"repos", "sessions", "doctor", "phrase",
	}
	have := make(map[string]bool)
	for _, cmd := range root.Commands() {
		have[cmd.Name()] = true
	}
	for _, name := range want {
		require.True(t, have[name], "missing command %q", name)
	}
	require.NotNil(t, root.PersistentFlags().Lookup("profile"))
	require.NotNil(t, root.PersistentFlags().Lookup("verbose"))
}
