package plugin

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"judgecore/internal/sandbox"
	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"github.com/go-ini/ini"
	"github.com/google/shlex"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Registry is the read-only, process-lifetime plugin catalog. Load it once
// at startup; lookups afterward need no synchronization.
type Registry struct {
	byID map[string]LanguageSpec
}

// Lookup returns the spec for id, or ok=false if no such plugin loaded.
func (r *Registry) Lookup(id string) (LanguageSpec, bool) {
	spec, ok := r.byID[id]
	return spec, ok
}

// All returns every loaded spec, for the JudgerInfo RPC's plugin catalog.
func (r *Registry) All() []LanguageSpec {
	out := make([]LanguageSpec, 0, len(r.byID))
	for _, spec := range r.byID {
		out = append(out, spec)
	}
	return out
}

// LoadDirectory scans root for plugin subdirectories, each expected to
// contain a declarative spec file (spec.ini, per go-ini's format-agnostic
// key=value/section parser) plus a rootfs/ subtree. A plugin that fails to
// load is logged and skipped; it never aborts startup. Duplicate ids are
// rejected: the first loader (by directory scan order) keeps the id, and
// both the keeper and the loser are logged.
func LoadDirectory(ctx context.Context, root string) (*Registry, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.PluginLoadFailed, "read plugin root failed")
	}

	reg := &Registry{byID: make(map[string]LanguageSpec)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		specPath, err := findSpecFile(dir)
		if err != nil {
			logger.Warn(ctx, "plugin directory has no spec file, skipping", zap.String("dir", dir), zap.Error(err))
			continue
		}

		rootfsDir := filepath.Join(dir, "rootfs")
		if err := materializeRootfs(dir, rootfsDir); err != nil {
			logger.Warn(ctx, "plugin rootfs image failed to extract, skipping", zap.String("dir", dir), zap.Error(err))
			continue
		}

		spec, err := loadSpecFile(specPath, rootfsDir)
		if err != nil {
			logger.Warn(ctx, "plugin spec failed to load, skipping", zap.String("spec_path", specPath), zap.Error(err))
			continue
		}

		if existing, dup := reg.byID[spec.ID]; dup {
			logger.Warn(ctx, "duplicate plugin id, keeping first loader",
				zap.String("id", spec.ID), zap.String("kept_name", existing.Name), zap.String("rejected_name", spec.Name))
			continue
		}
		reg.byID[spec.ID] = spec
		logger.Info(ctx, "loaded language plugin", zap.String("id", spec.ID), zap.String("name", spec.Name))
	}
	return reg, nil
}

// materializeRootfs extracts dir/rootfs.tar.zst into rootfsDir the first
// time a plugin is loaded; a rootfs committed to the plugin directory as a
// plain tree (no tarball present) is used as-is. Re-extraction is skipped
// once rootfsDir already exists, so the cache only pays the decompression
// cost once per process lifetime per plugin.
func materializeRootfs(dir, rootfsDir string) error {
	tarballPath := filepath.Join(dir, "rootfs.tar.zst")
	if _, err := os.Stat(tarballPath); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat rootfs tarball: %w", err)
	}
	if _, err := os.Stat(rootfsDir); err == nil {
		return nil
	}

	f, err := os.Open(tarballPath)
	if err != nil {
		return fmt.Errorf("open rootfs tarball: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("open zstd stream: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(rootfsDir, 0o755); err != nil {
		return fmt.Errorf("create rootfs dir: %w", err)
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rootfs tar entry: %w", err)
		}
		target := filepath.Join(rootfsDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("extract dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract file %s: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("create file %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write file %s: %w", hdr.Name, err)
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("extract symlink %s: %w", hdr.Name, err)
			}
		}
	}
}

func findSpecFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "spec.*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no spec.* file found in %s", dir)
	}
	return matches[0], nil
}

func loadSpecFile(path, rootfsPath string) (LanguageSpec, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return LanguageSpec{}, fmt.Errorf("parse ini: %w", err)
	}

	top := cfg.Section("")
	spec := LanguageSpec{
		ID:         top.Key("id").String(),
		Name:       top.Key("name").String(),
		Extension:  top.Key("extension").String(),
		Info:       top.Key("info").String(),
		File:       top.Key("file").String(),
		FSLimit:    top.Key("fs_limit").MustInt64(DefaultFSLimit),
		RootfsPath: rootfsPath,
	}
	if spec.ID == "" {
		return LanguageSpec{}, fmt.Errorf("spec file %s missing id", path)
	}
	if spec.Name == "" {
		return LanguageSpec{}, fmt.Errorf("spec file %s missing name", path)
	}

	compile := cfg.Section("compile")
	compileArgs, err := shlex.Split(compile.Key("command").String())
	if err != nil {
		return LanguageSpec{}, fmt.Errorf("parse [compile] command: %w", err)
	}
	spec.CompileArgs = compileArgs
	spec.CompileLimit = sandbox.Limit{
		MemKernel:  compile.Key("kernel_mem").MustInt64(0),
		MemTotal:   compile.Key("memory").MustInt64(DefaultCompileMemory),
		CPUTotalUs: compile.Key("cpu_time").MustInt64(0),
		OutputCap:  compile.Key("output_limit").MustInt64(DefaultFSLimit),
		Walltime:   time.Duration(compile.Key("walltime").MustInt64(DefaultCompileTimeNs)),
	}
	spec.RTTimeNs = compile.Key("rt_time").MustInt64(0)

	judge := cfg.Section("judge")
	judgeArgs, err := shlex.Split(judge.Key("command").String())
	if err != nil {
		return LanguageSpec{}, fmt.Errorf("parse [judge] command: %w", err)
	}
	spec.JudgeArgs = judgeArgs

	memMult := judge.Key("memory_multiplier").MustFloat64(DefaultFactorMultiplier)
	cpuMult := judge.Key("cpu_multiplier").MustFloat64(DefaultFactorMultiplier)
	spec.JudgeMemFactor = Factor{Kernel: judge.Key("kernel_mem").MustInt64(0), TotalMultiplier: memMult}
	spec.JudgeCPUFactor = Factor{TotalMultiplier: cpuMult}
	spec.JudgeWalltimeNs = judge.Key("walltime").MustInt64(DefaultJudgeWalltimeNs)
	spec.JudgeOutputCap = judge.Key("output").MustInt64(DefaultFSLimit)
	if spec.RTTimeNs == 0 {
		spec.RTTimeNs = judge.Key("rt_time").MustInt64(0)
	}

	return spec, nil
}
