package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunDeniesUnlistedCommand(t *testing.T) {
	ex := NewExecutor(WithAllowedCommands("echo"))
	_, err := ex.Run(context.Background(), "rm", "-rf", "/")
	require.Error(t, err)
	var notAllowed *ErrCommandNotAllowed
	require.ErrorAs(t, err, &notAllowed)
}

func TestRunAllowedCommand(t *testing.T) {
	ex := NewExecutor(WithAllowedCommands("echo"))
	result, err := ex.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	require.Equal(t, "hello\n", result.Stdout)
	require.False(t, result.TimedOut)
}

func TestRunTimesOut(t *testing.T) {
	ex := NewExecutor(WithAllowedCommands("sleep"), WithTimeout(10*time.Millisecond))
	result, err := ex.Run(context.Background(), "sleep", "1")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
}

func TestRunTruncatesOutput(t *testing.T) {
	ex := NewExecutor(WithAllowedCommands("yes"), WithOutputCap(16), WithTimeout(200*time.Millisecond))
	result, err := ex.Run(context.Background(), "yes")
	require.NoError(t, err)
	require.True(t, result.StdoutTruncated)
	require.LessOrEqual(t, len(result.Stdout), 16)
}
