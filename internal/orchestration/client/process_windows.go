//go:build windows

package client

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM; termination is immediate.
func signalTerminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func signalKill(cmd *exec.Cmd) error {
	return signalTerminate(cmd)
}
