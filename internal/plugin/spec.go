// Package plugin implements the language plugin registry: it loads
// declarative spec files from a plugin directory at startup and exposes
// read-only lookup by plugin id for the rest of the judger.
package plugin

import "judgecore/internal/sandbox"

// Factor transforms a caller-supplied coarse multiplier into a concrete
// component of a Limit: kernel and user contributions plus an overall
// multiplier applied to the nominal total.
type Factor struct {
	Kernel          int64
	User            int64
	TotalMultiplier float64
}

// Apply combines the factor with a caller-supplied multiplier to produce
// concrete kernel/user/total figures in the same unit as Kernel/User.
func (f Factor) Apply(nominalTotal int64, callerMultiplier uint64) (kernel, user, total int64) {
	mult := f.TotalMultiplier
	if mult <= 0 {
		mult = 1.0
	}
	scaled := float64(nominalTotal) * mult * float64(callerMultiplier)
	return f.Kernel, f.User, int64(scaled)
}

// LanguageSpec is an immutable plugin description, loaded once at startup
// and shared read-only by the registry for the process lifetime.
type LanguageSpec struct {
	ID        string // UUID
	Name      string
	Extension string
	Info      string

	// File is the filename the source is written to inside scratch.
	File string
	// FSLimit is the max scratch directory size in bytes.
	FSLimit int64

	// RootfsPath is the chroot target for this plugin's jail.
	RootfsPath string

	CompileArgs []string
	JudgeArgs   []string

	CompileLimit sandbox.Limit

	JudgeCPUFactor Factor
	JudgeMemFactor Factor

	// JudgeWalltimeNs is the sole source of a judge case's wall-clock
	// budget (spec file key judge.walltime), per the judge-walltime-source
	// decision recorded in SPEC_FULL.md §D.3.
	JudgeWalltimeNs int64
	// JudgeOutputCap is the sole source of a judge case's output-size cap
	// (spec file key judge.output), per the same decision.
	JudgeOutputCap int64

	// RTTimeNs seeds the short cpu.max accounting period mirror (see
	// CGroupConfig.Accuracy); it does not contribute to walltime, per the
	// judge-walltime-source decision recorded in SPEC_FULL.md §D.3.
	RTTimeNs int64
}

// Defaults per spec.md §4.8, applied to any field left unset in a spec
// file.
const (
	DefaultFSLimit          = 64 * 1024 * 1024
	DefaultCompileTimeNs    = 10 * 1_000_000_000
	DefaultCompileMemory    = 256 * 1024 * 1024
	DefaultJudgeWalltimeNs  = 360 * 1_000_000
	DefaultFactorMultiplier = 1.0
)
