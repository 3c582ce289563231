// Package runner executes the install and build commands of a project.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// ErrTimedOut is returned when a command outlives its deadline.
var ErrTimedOut = errors.New("timed out")

// Command is one shell-free command line run inside a project workspace.
type Command struct {
	Dir  string
	Line string
	Env  []string
}

// Result carries the combined stdout and stderr of a command.
type Result struct {
	Output   string
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Split tokenises a command line with shell quoting rules.
func Split(line string) ([]string, error) {
	args, err := shlex.Split(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return args, nil
}

// deadlineError maps an expired context to ErrTimedOut.
func deadlineError(ctx context.Context, line string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("command %s: %w", line, ErrTimedOut)
	}
	return err
}

// Tail returns at most limit trailing lines of output.
func Tail(output string, limit int) string {
	output = strings.TrimRight(output, "\n")
	if output == "" || limit <= 0 {
		return ""
	}
	lines := strings.Split(output, "\n")
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return strings.Join(lines, "\n")
}
