// Package command runs the external tools a release delegates to.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/domain"
)

// DefaultTimeout bounds a single command. Cluster start-up is the slowest one.
const DefaultTimeout = 10 * time.Minute

// Result is the outcome of a finished command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

// Is makes errors.Is(err, domain.ErrExternalCommandFailure) match.
func (e *ExitError) Is(target error) bool {
	return target == domain.ErrExternalCommandFailure
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Runner runs commands. Probe is the non-fatal mode used for diagnostics and
// best-effort teardown: failures are logged and reported only through the Result.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) (Result, error)
	Probe(ctx context.Context, name string, args ...string) Result
}

// Exec runs commands on the host.
type Exec struct {
	logger  *zap.Logger
	timeout time.Duration
	env     []string
}

// Ensure Exec implements Runner.
var _ Runner = (*Exec)(nil)

// NewExec creates an Exec. A zero timeout uses DefaultTimeout; env entries are
// appended to the process environment.
func NewExec(logger *zap.Logger, timeout time.Duration, env ...string) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Exec{logger: logger, timeout: timeout, env: env}
}

// LookPath resolves name on PATH; a missing tool is domain.ErrExternalToolUnavailable.
func (e *Exec) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH: %w", name, domain.ErrExternalToolUnavailable)
	}
	return path, nil
}

// Run executes the command and returns an *ExitError on a non-zero exit.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if _, err := e.LookPath(name); err != nil {
		return Result{Command: name, ExitCode: -1}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	if len(e.env) > 0 {
		cmd.Env = append(cmd.Environ(), e.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	line := strings.Join(append([]string{name}, args...), " ")
	e.logger.Info("executing", zap.String("command", line))
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  line,
		ExitCode: exitCode(cmd, err),
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}
	e.logger.Debug("finished", zap.String("command", line), zap.Int("exit_code", res.ExitCode), zap.Duration("duration", res.Duration))

	if err == nil {
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%s timed out after %s: %w", line, e.timeout, domain.ErrExternalCommandFailure)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Command: line, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, fmt.Errorf("running %s: %v: %w", line, err, domain.ErrExternalCommandFailure)
}

// Probe runs the command and only logs a failure.
func (e *Exec) Probe(ctx context.Context, name string, args ...string) Result {
	res, err := e.Run(ctx, name, args...)
	if err != nil {
		e.logger.Warn("probe failed", zap.String("command", res.Command), zap.Error(err))
	}
	return res
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
