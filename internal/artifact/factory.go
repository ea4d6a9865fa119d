// Package artifact implements the Artifact Factory (compile) and Compiled
// Artifact (judge) components: given a plugin id and source bytes, it
// produces a running sandbox artifact that can be repeatedly judged
// against test case input.
package artifact

import (
	"context"
	"time"

	"judgecore/internal/plugin"
	"judgecore/internal/sandbox"
	"judgecore/internal/verdict"
	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"go.uber.org/zap"
)

// EngineConfig carries the sandbox-level configuration shared by every
// compile and judge run the factory produces.
type EngineConfig struct {
	TempRoot string
	CGroup   sandbox.CGroupConfig
	Jailer   sandbox.JailerConfig
}

// Factory is the Artifact Factory (C9): given (plugin id, source bytes) it
// produces a CompiledArtifact living in its own SandboxFS.
type Factory struct {
	registry *plugin.Registry
	sem      *sandbox.Semaphore
	engine   EngineConfig
}

// NewFactory builds a Factory over a loaded plugin registry and the global
// Resource Semaphore.
func NewFactory(registry *plugin.Registry, sem *sandbox.Semaphore, engine EngineConfig) *Factory {
	return &Factory{registry: registry, sem: sem, engine: engine}
}

// CompileOutcome is the result of one Compile call: either a usable
// Artifact, or CE with the compile child's parsed log lines. Exactly one
// of Artifact/CE is meaningful.
type CompileOutcome struct {
	Artifact *CompiledArtifact
	CE       bool
	Logs     []verdict.CompileLogLine
}

// Compile looks up langID, reserves memory for the artifact's whole
// lifetime, creates a SandboxFS, and spawns a compile run. A nonzero exit,
// a signal, or a monitor trigger during compile all yield CE rather than
// an error — per spec.md §7, verdict codes are not errors.
func (f *Factory) Compile(ctx context.Context, langID string, source []byte) (CompileOutcome, error) {
	spec, ok := f.registry.Lookup(langID)
	if !ok {
		return CompileOutcome{}, pkgerrors.New(pkgerrors.PluginNotFound).WithDetail("lang_id", langID)
	}

	memReserved := spec.CompileLimit.MemTotal + spec.FSLimit
	permit, err := f.sem.Acquire(ctx, sandbox.Demand{Jobs: 1, Memory: memReserved})
	if err != nil {
		return CompileOutcome{}, err
	}

	fs, err := sandbox.NewSandboxFS(f.engine.TempRoot)
	if err != nil {
		permit.Release()
		return CompileOutcome{}, err
	}

	corpse, err := f.runCompile(ctx, spec, fs, source)
	if err != nil {
		fs.Close(ctx)
		permit.Release()
		return CompileOutcome{}, err
	}

	if corpse.MonitorTrigger != sandbox.MonitorNone || corpse.Exit.Kind != sandbox.ExitCode || corpse.Exit.Code != 0 {
		logs := verdict.ParseCompileLog(corpse.Stdout)
		fs.Close(ctx)
		permit.Release()
		return CompileOutcome{CE: true, Logs: logs}, nil
	}

	return CompileOutcome{Artifact: &CompiledArtifact{
		spec:   spec,
		fs:     fs,
		permit: permit,
		engine: f.engine,
	}}, nil
}

func (f *Factory) runCompile(ctx context.Context, spec plugin.LanguageSpec, fs *sandbox.SandboxFS, source []byte) (sandbox.Corpse, error) {
	limit := spec.CompileLimit

	cgroupCfg := f.engine.CGroup
	if spec.RTTimeNs > 0 {
		cgroupCfg.Accuracy = time.Duration(spec.RTTimeNs)
	}
	cgroupMon, err := sandbox.NewCGroupMonitor(cgroupCfg, fs.ID(), "compile", limit)
	if err != nil {
		logger.Warn(ctx, "cgroup monitor unavailable for compile, proceeding without accounting", zap.Error(err))
		cgroupMon = nil
	}
	defer func() {
		if cgroupMon != nil {
			cgroupMon.Close(ctx)
		}
	}()

	outputCap := limit.OutputCap
	if outputCap <= 0 {
		outputCap = plugin.DefaultFSLimit
	}
	output := sandbox.NewOutputMonitor(outputCap)

	walltime := limit.Walltime
	if walltime <= 0 {
		walltime = time.Duration(plugin.DefaultCompileTimeNs)
	}
	agg := sandbox.NewAggregator(cgroupMon, output, sandbox.NewWalltimeMonitor(walltime))

	jailer, err := sandbox.NewJailer(ctx, f.engine.Jailer, sandbox.JailerSpawn{
		RootfsPath:  spec.RootfsPath,
		ScratchPath: fs.ScratchPath(),
		CgroupPath:  cgroupMon.Path(),
		Lockdown:    limit.Lockdown,
		InnerArgv:   spec.CompileArgs,
	})
	if err != nil {
		return sandbox.Corpse{}, err
	}
	return jailer.Run(ctx, agg, source)
}
