package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"go.uber.org/zap"
)

// JailerConfig describes how to invoke the external jailer binary. The
// jailer itself (an nsjail-compatible namespace/seccomp tool) is not part
// of this module; only the argv contract it is expected to honor is.
type JailerConfig struct {
	Runtime        string // path to the jailer binary
	CgroupVersion  string // "v1" or "v2"
	LogPath        string
	SeccompProfile string // path to a JSON seccomp policy; empty disables filtering
	Debug          bool   // when true, stderr is inherited instead of discarded
}

// JailerSpawn describes one sandbox execution: the rootfs to chroot into,
// the scratch directory to bind-mount as /src, the cgroup this run was
// attached to by the CGroup Monitor, and the inner command to execute.
type JailerSpawn struct {
	RootfsPath  string
	ScratchPath string
	CgroupPath  string // full path created by CGroupMonitor; only its last
	// path component (runDir) is what the jailer is told to join under its
	// configured cgroup root.
	Lockdown  bool
	InnerArgv []string
}

// BuildArgv composes the jailer's argv from four groups: base flags,
// cgroup-attach flags, mount flags, and the inner command, in that order.
func BuildArgv(cfg JailerConfig, spawn JailerSpawn) []string {
	var argv []string

	// (a) base flags.
	argv = append(argv, "--chroot", spawn.RootfsPath)
	argv = append(argv, "--disable_clone_newuser")
	argv = append(argv, "--cgroup_mem_swap_max", "0")
	argv = append(argv, "--disable_clone_newcgroup")

	// (b) cgroup-attach flags.
	cgroupName := cgroupAttachName(spawn.CgroupPath)
	if strings.EqualFold(cfg.CgroupVersion, "v1") {
		argv = append(argv, "--cgroup_mem_parent", cgroupName)
		argv = append(argv, "--cgroup_cpu_parent", cgroupName)
		argv = append(argv, "--cgroup_cpu_ms_per_sec", "1000000000000")
	} else {
		argv = append(argv, "--use_cgroupv2")
		argv = append(argv, "--cgroup_cpu_parent", cgroupName)
	}

	// (c) mount flags.
	mountFlag := "--bindmount"
	if spawn.Lockdown {
		mountFlag = "--bindmount_ro"
	}
	argv = append(argv, mountFlag, fmt.Sprintf("%s:/src", spawn.ScratchPath))

	// common flags.
	if cfg.SeccompProfile != "" {
		argv = append(argv, "--seccomp_policy", cfg.SeccompProfile)
	}
	if cfg.LogPath != "" {
		argv = append(argv, "-l", cfg.LogPath)
	}
	argv = append(argv, "-Me", "--")

	// (d) inner argv.
	argv = append(argv, spawn.InnerArgv...)
	return argv
}

// cgroupAttachName derives the name the jailer's --cgroup_*_parent flags
// should reference: the run's leaf cgroup directory name, since the
// jailer is configured with a matching cgroup root out of band.
func cgroupAttachName(cgroupPath string) string {
	return filepath.Base(cgroupPath)
}

// Jailer owns one external jailer subprocess for the duration of a single
// compile or judge run. Its zero value is not usable; construct with
// NewJailer.
type Jailer struct {
	cfg   JailerConfig
	cmd   *exec.Cmd
	stdin io.WriteCloser

	stdoutR *os.File
	stdoutW *os.File
}

// NewJailer prepares (but does not start) a jailer subprocess for spawn.
func NewJailer(ctx context.Context, cfg JailerConfig, spawn JailerSpawn) (*Jailer, error) {
	argv := BuildArgv(cfg, spawn)
	cmd := exec.CommandContext(ctx, cfg.Runtime, argv...)
	cmd.Env = []string{"PATH=" + filepath.Join(spawn.RootfsPath, "bin")}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.JailerFailure, "stdin pipe failed")
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.JailerFailure, "stdout pipe failed")
	}
	cmd.Stdout = stdoutW

	if cfg.Debug {
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stderr = nil
	}

	configureSysProcAttr(cmd)

	return &Jailer{cfg: cfg, cmd: cmd, stdin: stdin, stdoutR: stdoutR, stdoutW: stdoutW}, nil
}

// Run starts the jailer, feeds input on stdin, forwards stdout into the
// aggregator's Output Monitor, attaches the child to the run's cgroup, and
// races the child's exit against the aggregator's monitors. It always
// returns a Corpse — the caller need not special-case a monitor firing
// first versus a clean exit.
func (j *Jailer) Run(ctx context.Context, agg *Aggregator, input []byte) (Corpse, error) {
	started := time.Now()
	if err := j.cmd.Start(); err != nil {
		j.stdoutW.Close()
		j.stdoutR.Close()
		return Corpse{}, pkgerrors.Wrapf(err, pkgerrors.JailerFailure, "spawn failed")
	}
	// The write end is only needed by the child; close our copy so the
	// Output Monitor's read sees EOF once the child's own copy closes.
	j.stdoutW.Close()

	if agg.cgroup != nil {
		if err := agg.cgroup.Attach(j.cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "cgroup attach failed", zap.Error(err))
		}
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer j.stdin.Close()
		if len(input) > 0 {
			_, _ = io.Copy(j.stdin, bytes.NewReader(input))
		}
	}()

	copyDone := make(chan error, 1)
	go func() {
		copyDone <- agg.output.Copy(j.stdoutR)
	}()

	exitDone := make(chan error, 1)
	go func() {
		exitDone <- j.cmd.Wait()
	}()

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()

	var exitErr error
	var monitorKind MonitorKind
	select {
	case exitErr = <-exitDone:
	case monitorKind = <-waitExhaustChan(waitCtx, agg):
		_ = killProcessGroup(j.cmd)
		exitErr = <-exitDone
	}
	cancelWait()

	<-writeDone
	// The stdout proxy must be awaited to completion even after a kill, so
	// any output produced before termination is still captured for an
	// MLE/OLE verdict.
	<-copyDone
	j.stdoutR.Close()
	if monitorKind == MonitorNone {
		// A bound can latch without winning the race against a fast exit
		// (e.g. output truncated just before the child returns).
		monitorKind = agg.PollExhaust()
	}

	exit := classifyExit(exitErr, monitorKind)
	stat := agg.Stat(processState(j.cmd), started)

	return Corpse{
		Exit:           exit,
		MonitorTrigger: monitorKind,
		Stdout:         agg.output.Bytes(),
		Stat:           stat,
	}, nil
}

func waitExhaustChan(ctx context.Context, agg *Aggregator) <-chan MonitorKind {
	out := make(chan MonitorKind, 1)
	go func() {
		kind, _ := agg.WaitExhaust(ctx)
		out <- kind
	}()
	return out
}

func processState(cmd *exec.Cmd) *os.ProcessState {
	if cmd == nil {
		return nil
	}
	return cmd.ProcessState
}

func classifyExit(exitErr error, monitorKind MonitorKind) ExitStatus {
	if monitorKind != MonitorNone {
		switch monitorKind {
		case MonitorMemory:
			return ExitStatus{Kind: ExitMemExhausted}
		case MonitorCPU:
			return ExitStatus{Kind: ExitCPUExhausted}
		case MonitorWalltime:
			return ExitStatus{Kind: ExitWalltimeExhausted}
		case MonitorOutput:
			return ExitStatus{Kind: ExitOutputExhausted}
		}
	}
	if exitErr == nil {
		return ExitStatus{Kind: ExitCode, Code: 0}
	}
	if exitError, ok := exitErr.(*exec.ExitError); ok {
		if ws, ok := exitWaitStatus(exitError); ok {
			if ws.signaled() {
				return ExitStatus{Kind: ExitSignal, Signal: ws.signal()}
			}
			return ExitStatus{Kind: ExitCode, Code: ws.exitStatus()}
		}
		return ExitStatus{Kind: ExitCode, Code: exitError.ExitCode()}
	}
	return ExitStatus{Kind: ExitSysError}
}
