//go:build windows

package toolrun

import "os/exec"

// configureProcessGroup keeps the default CommandContext kill on Windows.
func configureProcessGroup(cmd *exec.Cmd) {}
