//go:build windows

package proc

import (
	"errors"
	"os"
	"os/exec"
)

// Windows has no process groups or termination signals; both phases fall
// back to Process.Kill, preserving the two-phase timing contract.

func setProcessGroup(cmd *exec.Cmd) {}

func requestGracefulStop(cmd *exec.Cmd) error {
	return kill(cmd)
}

func requestForcedStop(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
