//go:build windows

package execx

import "os/exec"

// setpgid is a no-op on Windows: there is no process-group/negative-PID
// kill mechanism to set up, so terminateProcessGroup/killProcessGroup fall
// back to killing just the direct child.
func setpgid(cmd *exec.Cmd) {}

func terminateProcessGroup(cmd *exec.Cmd) {
	killProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
