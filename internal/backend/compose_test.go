package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComposeArgs_IncludesProjectWhenSet(t *testing.T) {
	b := &ComposeBackend{ComposeFile: "stack.yaml", Project: "demo"}
	require.Equal(t, []string{"compose", "-f", "stack.yaml", "-p", "demo", "run", "-d"}, b.composeArgs("run", "-d"))
}

func TestComposeArgs_OmitsProjectWhenUnset(t *testing.T) {
	b := &ComposeBackend{ComposeFile: "stack.yaml"}
	require.Equal(t, []string{"compose", "-f", "stack.yaml", "ps"}, b.composeArgs("ps"))
}

func TestFirstLine_SplitsOnNewline(t *testing.T) {
	require.Equal(t, "abc123", firstLine("abc123\nwarning: something\n"))
	require.Equal(t, "abc123", firstLine("abc123"))
}
