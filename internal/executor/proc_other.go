//go:build !unix

package executor

import (
	"os"
	"os/exec"
)

func prepare(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return terminateGroup(cmd)
	}
}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
