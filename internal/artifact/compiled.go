package artifact

import (
	"context"
	"time"

	"judgecore/internal/matcher"
	"judgecore/internal/plugin"
	"judgecore/internal/sandbox"
	"judgecore/internal/verdict"
)

// CompiledArtifact is the post-compile state (sandbox filesystem + plugin
// spec) ready to be run against test cases. It exclusively owns its
// SandboxFS and its memory reservation permit for its whole lifecycle.
type CompiledArtifact struct {
	spec   plugin.LanguageSpec
	fs     *sandbox.SandboxFS
	permit *sandbox.Permit
	engine EngineConfig
}

// Close releases the artifact's SandboxFS and memory reservation. The
// caller must call this exactly once when done judging, typically via
// defer right after a successful Compile.
func (a *CompiledArtifact) Close(ctx context.Context) {
	a.fs.Close(ctx)
	a.permit.Release()
}

// CaseResult is the outcome of judging one test case.
type CaseResult struct {
	Code verdict.Code
	Stat sandbox.Stat
}

// Judge runs input against the artifact under a Limit derived from the
// plugin's judge factors scaled by the caller's multipliers, then decides
// the verdict per spec.md §4.10's exit-code mapping table.
func (a *CompiledArtifact) Judge(ctx context.Context, input, expected []byte, cpuMul, memMul uint64, rule matcher.Rule) (CaseResult, error) {
	limit := a.concreteLimit(cpuMul, memMul)

	cgroupCfg := a.engine.CGroup
	if a.spec.RTTimeNs > 0 {
		cgroupCfg.Accuracy = time.Duration(a.spec.RTTimeNs)
	}
	cgroupMon, err := sandbox.NewCGroupMonitor(cgroupCfg, a.fs.ID(), "judge", limit)
	if err != nil {
		cgroupMon = nil
	}
	defer func() {
		if cgroupMon != nil {
			cgroupMon.Close(ctx)
		}
	}()

	output := sandbox.NewOutputMonitor(limit.OutputCap)
	agg := sandbox.NewAggregator(cgroupMon, output, sandbox.NewWalltimeMonitor(limit.Walltime))

	jailer, err := sandbox.NewJailer(ctx, a.engine.Jailer, sandbox.JailerSpawn{
		RootfsPath:  a.spec.RootfsPath,
		ScratchPath: a.fs.ScratchPath(),
		CgroupPath:  cgroupMon.Path(),
		Lockdown:    limit.Lockdown,
		InnerArgv:   a.spec.JudgeArgs,
	})
	if err != nil {
		return CaseResult{}, err
	}

	corpse, err := jailer.Run(ctx, agg, input)
	if err != nil {
		return CaseResult{}, err
	}

	code := classifyVerdict(corpse, expected, rule)
	return CaseResult{Code: code, Stat: corpse.Stat}, nil
}

// concreteLimit combines the plugin's judge cpu/mem factors with the
// caller's requested cpu/mem baseline into a fully concrete Limit: cpu/mem
// totals are the caller's request scaled by the factor's total multiplier
// (no compile-time limit enters the judge limit). Walltime and the output
// cap are sourced solely from the plugin's judge.walltime/judge.output
// spec keys, per the judge-walltime-source decision in SPEC_FULL.md §D.3.
func (a *CompiledArtifact) concreteLimit(cpuMul, memMul uint64) sandbox.Limit {
	cpuKernel, cpuUser, cpuTotal := a.spec.JudgeCPUFactor.Apply(int64(cpuMul), 1)
	memKernel, _, memTotal := a.spec.JudgeMemFactor.Apply(int64(memMul), 1)

	outputCap := a.spec.JudgeOutputCap
	if outputCap <= 0 {
		outputCap = plugin.DefaultFSLimit
	}

	walltime := time.Duration(a.spec.JudgeWalltimeNs)
	if walltime <= 0 {
		walltime = time.Duration(plugin.DefaultJudgeWalltimeNs)
	}

	return sandbox.Limit{
		CPUTotalUs:  cpuTotal,
		CPUKernelUs: cpuKernel,
		CPUUserUs:   cpuUser,
		MemTotal:    memTotal,
		MemKernel:   memKernel,
		MemSwap:     0,
		OutputCap:   outputCap,
		Walltime:    walltime,
	}
}

// classifyVerdict translates a finished Corpse to a JudgerCode following
// spec.md §4.10's exact table.
func classifyVerdict(corpse sandbox.Corpse, expected []byte, rule matcher.Rule) verdict.Code {
	switch corpse.MonitorTrigger {
	case sandbox.MonitorMemory:
		return verdict.MLE
	case sandbox.MonitorCPU, sandbox.MonitorWalltime:
		return verdict.TLE
	case sandbox.MonitorOutput:
		return verdict.OLE
	}

	switch corpse.Exit.Kind {
	case sandbox.ExitSignal:
		if corpse.Exit.Signal == 11 { // SIGSEGV
			return verdict.RE
		}
		return verdict.RF
	case sandbox.ExitCode:
		code := corpse.Exit.Code
		switch {
		case code == 125:
			return verdict.MLE
		case code == 126 || code == 127 || (code >= 129 && code <= 192):
			return verdict.RF
		case code == 0 || (code >= 1 && code <= 124) || code == 255:
			if matcher.Match(corpse.Stdout, expected, rule) {
				return verdict.AC
			}
			return verdict.WA
		default:
			return verdict.NA
		}
	default:
		return verdict.NA
	}
}
