//go:build !windows

package toolrun

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts the tool in its own process group and, on
// cancellation, kills the whole group so helpers spawned by the tool die too.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
