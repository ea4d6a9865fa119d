package sandbox

import (
	"context"
	"os"
	"path/filepath"

	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// scratchDirName is the fixed subdirectory name bind-mounted into the jail
// as /src.
const scratchDirName = "src"

// SandboxFS is a freshly-created, per-run ephemeral directory: a unique id
// under a configured temp root, holding a writable scratch subdirectory.
// Its lifetime is exactly one compile-plus-runs; Close asynchronously
// removes it and must never be relied on to block.
type SandboxFS struct {
	id      string
	root    string
	scratch string
}

// NewSandboxFS allocates <tempRoot>/<uuid> and its src/ scratch
// subdirectory. The id is never reused across the process lifetime.
func NewSandboxFS(tempRoot string) (*SandboxFS, error) {
	id := uuid.NewString()
	root := filepath.Join(tempRoot, id)
	scratch := filepath.Join(root, scratchDirName)
	if err := os.MkdirAll(scratch, 0o750); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxFSFailed, "create sandbox fs failed")
	}
	return &SandboxFS{id: id, root: root, scratch: scratch}, nil
}

// ID returns the run's unique, never-reused identifier.
func (fs *SandboxFS) ID() string { return fs.id }

// Root returns the absolute path of the per-run directory.
func (fs *SandboxFS) Root() string { return fs.root }

// ScratchPath returns the absolute path of the writable scratch directory,
// the bind-mount source for the jail's /src.
func (fs *SandboxFS) ScratchPath() string { return fs.scratch }

// Close dispatches asynchronous recursive removal of the run directory.
// It returns immediately; removal failures are logged at Warn and never
// surfaced, since drop/Close must never block or fail the caller.
func (fs *SandboxFS) Close(ctx context.Context) {
	root := fs.root
	go func() {
		if err := os.RemoveAll(root); err != nil {
			logger.Warn(ctx, "sandbox fs cleanup failed", zap.String("path", root), zap.Error(err))
		}
	}()
}

// GCStartup removes any leftover per-run directories from prior process
// lifetimes found directly under tempRoot. Called once at service startup.
func GCStartup(ctx context.Context, tempRoot string) error {
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pkgerrors.Wrapf(err, pkgerrors.SandboxFSFailed, "read temp root failed")
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			// Not one of our run directories; leave it alone.
			continue
		}
		path := filepath.Join(tempRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn(ctx, "startup gc failed to remove stale sandbox dir", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}
