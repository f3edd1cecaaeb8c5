package command_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/bgrelease/internal/command"
	"github.com/waabox/bgrelease/internal/domain"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestExec_CapturesOutput(t *testing.T) {
	requireShell(t)
	res, err := command.NewExec(nil, 0).Run(context.Background(), "sh", "-c", "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "oops", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "sh -c echo hello; echo oops >&2", res.Command)
}

func TestExec_NonZeroExitIsCommandFailure(t *testing.T) {
	requireShell(t)
	res, err := command.NewExec(nil, 0).Run(context.Background(), "sh", "-c", "echo first >&2; echo boom >&2; exit 3")
	require.ErrorIs(t, err, domain.ErrExternalCommandFailure)

	var exitErr *command.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "boom")
	assert.NotContains(t, err.Error(), "first")
}

func TestExec_MissingToolIsUnavailable(t *testing.T) {
	_, err := command.NewExec(nil, 0).Run(context.Background(), "bgrelease-no-such-tool")
	require.ErrorIs(t, err, domain.ErrExternalToolUnavailable)
	assert.False(t, errors.Is(err, domain.ErrExternalCommandFailure))
}

func TestExec_Timeout(t *testing.T) {
	requireShell(t)
	_, err := command.NewExec(nil, 50*time.Millisecond).Run(context.Background(), "sh", "-c", "sleep 5")
	require.ErrorIs(t, err, domain.ErrExternalCommandFailure)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExec_EnvIsAppended(t *testing.T) {
	requireShell(t)
	res, err := command.NewExec(nil, 0, "BGRELEASE_TEST=42").Run(context.Background(), "sh", "-c", "echo $BGRELEASE_TEST")
	require.NoError(t, err)
	assert.Equal(t, "42", res.Stdout)
}

func TestExec_ProbeSwallowsFailure(t *testing.T) {
	requireShell(t)
	res := command.NewExec(nil, 0).Probe(context.Background(), "sh", "-c", "exit 1")
	assert.Equal(t, 1, res.ExitCode)
}
