//go:build unix

package proc

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child a process group leader so stop requests
// reach the whole tree it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// requestGracefulStop sends SIGTERM to the process group and to the process
// itself. A process that is already gone is success, not failure.
func requestGracefulStop(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

// requestForcedStop sends SIGKILL to the process group and the process.
func requestForcedStop(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	// Negative pid addresses the group; Setpgid made the child its leader.
	groupErr := syscall.Kill(-pid, sig)
	procErr := syscall.Kill(pid, sig)

	if groupErr != nil && !errors.Is(groupErr, syscall.ESRCH) {
		return groupErr
	}
	if procErr != nil && !errors.Is(procErr, syscall.ESRCH) {
		return procErr
	}
	return nil
}
