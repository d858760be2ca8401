package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CommandRunner executes scheduler commands and returns their stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned when a command exits unsuccessfully
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return e.Command + ": " + e.Err.Error()
	}
	return e.Command + ": " + e.Err.Error() + ": " + e.Stderr
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// LocalRunner runs commands on the local host
type LocalRunner struct{}

// NewLocalRunner creates a runner for local commands
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Run executes a command and captures stdout, keeping stderr for the error
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	commandLine := strings.Join(append([]string{name}, args...), " ")
	log.Ctx(ctx).Trace().Str("command", commandLine).Msg("running command")

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Command: commandLine,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// PrivilegedRunner prefixes every command with an escalation command such as sudo
type PrivilegedRunner struct {
	runner CommandRunner
	prefix string
}

// NewPrivilegedRunner wraps runner; an empty prefix runs commands unchanged
func NewPrivilegedRunner(runner CommandRunner, prefix string) *PrivilegedRunner {
	return &PrivilegedRunner{runner: runner, prefix: prefix}
}

// Run executes the command through the escalation prefix
func (r *PrivilegedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.prefix == "" {
		return r.runner.Run(ctx, name, args...)
	}
	out, err := r.runner.Run(ctx, r.prefix, append([]string{name}, args...)...)
	if err != nil {
		return out, errors.Wrap(err, "privileged command failed")
	}
	return out, nil
}
