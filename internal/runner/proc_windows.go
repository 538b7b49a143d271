//go:build windows

package runner

import "os/exec"

func setProcAttr(cmd *exec.Cmd) {}

// terminate has no graceful equivalent on Windows.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
