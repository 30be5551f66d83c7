//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts the command in its own process group so that
// children it forks can be signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return ErrProcessNotStarted
	}
	err := unix.Kill(-p.Pid, sig)
	switch {
	case err == nil, errors.Is(err, unix.ESRCH):
		return nil
	case errors.Is(err, unix.EPERM):
		// The group may be gone with the leader still reapable.
		return p.Signal(sig)
	default:
		return err
	}
}

func killGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func terminateGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}
