// Package sandbox implements the isolated execution engine: resource
// admission, cgroup/output/walltime monitoring, the ephemeral per-run
// filesystem, and the jailer process wrapper.
package sandbox

import "time"

// Limit is an immutable per-job descriptor. All three cpu fields allow the
// monitor to catch soft real-time exhaustion independently of each other.
type Limit struct {
	CPUTotalUs  int64
	CPUKernelUs int64
	CPUUserUs   int64

	MemTotal int64
	MemKernel int64
	MemSwap  int64

	OutputCap int64
	Walltime  time.Duration

	// Lockdown mounts the scratch volume read-only inside the jail.
	Lockdown bool
}

// MonitorKind identifies which bound was hit first.
type MonitorKind int

const (
	MonitorNone MonitorKind = iota
	MonitorMemory
	MonitorOutput
	MonitorWalltime
	MonitorCPU
)

func (k MonitorKind) String() string {
	switch k {
	case MonitorMemory:
		return "memory"
	case MonitorOutput:
		return "output"
	case MonitorWalltime:
		return "walltime"
	case MonitorCPU:
		return "cpu"
	default:
		return "none"
	}
}

// ExitKind tags how a sandboxed process terminated.
type ExitKind int

const (
	ExitCode ExitKind = iota
	ExitSignal
	ExitMemExhausted
	ExitCPUExhausted
	ExitOutputExhausted
	ExitWalltimeExhausted
	ExitSysError
)

// ExitStatus is a tagged union over how the child process ended. Only the
// field matching Kind is meaningful.
type ExitStatus struct {
	Kind   ExitKind
	Code   int // valid when Kind == ExitCode
	Signal int // valid when Kind == ExitSignal
}

// CPUStat reports kernel/user/total cpu time consumed.
type CPUStat struct {
	KernelUs int64
	UserUs   int64
	TotalUs  int64
}

// MemStat reports memory usage at end of run.
type MemStat struct {
	Kernel int64
	User   int64
	Total  int64
	Peak   int64
}

// Stat is the final resource usage of a finished sandbox run.
type Stat struct {
	CPU         CPUStat
	Memory      MemStat
	OutputBytes int64
	Walltime    time.Duration
}

// Corpse is what a finished sandbox run yields to its caller.
type Corpse struct {
	Exit           ExitStatus
	MonitorTrigger MonitorKind // MonitorNone if no monitor fired first
	Stdout         []byte      // always ≤ the governing Limit.OutputCap
	Stat           Stat
}
