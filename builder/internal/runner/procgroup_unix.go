//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// killGroupOnCancel runs the command in its own process group so that
// cancellation also reaches the processes it spawns.
func killGroupOnCancel(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
