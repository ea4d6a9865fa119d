//go:build linux

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureSysProcAttr puts the jailer in its own process group, asks the
// kernel to SIGKILL it if this process dies first, and clones it straight
// into fresh mount/pid/uts/ipc/net namespaces so cmd/sandbox-init starts
// life as pid 1 of its own container rather than having to unshare after
// the fact. User and cgroup namespaces are deliberately left to the host's
// (the jailer's argv always carries --disable_clone_newuser and
// --disable_clone_newcgroup, matching BuildArgv).
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Pdeathsig:  unix.SIGKILL,
		Cloneflags: syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET,
	}
}

// killProcessGroup sends SIGKILL to the jailer's whole process group so
// any grandchildren the jailer itself spawned inside the jail die too.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

type waitStatus struct {
	ws syscall.WaitStatus
}

func (w waitStatus) signaled() bool { return w.ws.Signaled() }
func (w waitStatus) signal() int    { return int(w.ws.Signal()) }
func (w waitStatus) exitStatus() int {
	return w.ws.ExitStatus()
}

func exitWaitStatus(exitErr *exec.ExitError) (waitStatus, bool) {
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return waitStatus{}, false
	}
	return waitStatus{ws: ws}, true
}
