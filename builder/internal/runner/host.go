package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for inherited pipes after the
// process group is killed.
const waitDelay = 2 * time.Second

// Host runs commands as child processes of the builder.
type Host struct {
	logger *slog.Logger
	env    []string
}

// NewHost returns a runner inheriting the builder environment plus base.
func NewHost(logger *slog.Logger, base []string) *Host {
	return &Host{logger: logger, env: append(os.Environ(), base...)}
}

// Run executes cmd.Line in cmd.Dir.
func (h *Host) Run(ctx context.Context, cmd Command) (Result, error) {
	args, err := Split(cmd.Line)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	c := exec.CommandContext(ctx, args[0], args[1:]...)
	c.Dir = cmd.Dir
	c.Env = append(append([]string{}, h.env...), cmd.Env...)
	killGroupOnCancel(c)
	c.WaitDelay = waitDelay
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	runErr := c.Run()
	res := Result{Output: out.String(), ExitCode: c.ProcessState.ExitCode()}
	if out.Len() > 0 && h.logger != nil {
		h.logger.Debug("command output", "command", cmd.Line, "dir", cmd.Dir, "output", res.Output)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			runErr = fmt.Errorf("command %s exited with status %d", cmd.Line, exitErr.ExitCode())
		} else {
			runErr = fmt.Errorf("command %s failed: %w", cmd.Line, runErr)
		}
		return res, deadlineError(ctx, cmd.Line, runErr)
	}
	return res, nil
}
