//go:build windows

package process

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killGroup(p *os.Process) error {
	if p == nil {
		return ErrProcessNotStarted
	}
	return p.Kill()
}

// Windows has no SIGTERM; terminate is a kill.
func terminateGroup(p *os.Process) error {
	return killGroup(p)
}
