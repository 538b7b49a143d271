//go:build !windows

package runner

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the workflow in its own process group so that stop
// also reaches helpers it spawned.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the workflow's process group to exit.
func terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

// kill forcibly ends the workflow's process group.
func kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil {
		// ESRCH: the whole group has exited. Otherwise retry the leader alone.
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return unix.Kill(pid, sig)
	}
	return nil
}
