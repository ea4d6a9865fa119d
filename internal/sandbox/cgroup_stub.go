//go:build !linux

package sandbox

import (
	"os"

	pkgerrors "judgecore/pkg/errors"
)

// Cgroups are a Linux-only kernel facility; on other platforms the monitor
// is constructible (so the rest of the package builds and unit-tests) but
// every operation that actually needs cgroupfs fails with CgroupFailure.

func createRunCgroup(parentPath, submissionID, testID string) (string, func(), error) {
	return "", func() {}, pkgerrors.New(pkgerrors.CgroupFailure).WithMessage("cgroups are not supported on this platform")
}

func applyCgroupLimits(cgroupPath string, limit Limit) error {
	return pkgerrors.New(pkgerrors.CgroupFailure).WithMessage("cgroups are not supported on this platform")
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	return pkgerrors.New(pkgerrors.CgroupFailure).WithMessage("cgroups are not supported on this platform")
}

func killCgroup(cgroupPath string) error {
	return os.ErrNotExist
}

func wasOomKilled(cgroupPath string) bool {
	return false
}

func cgroupCPUTimeMs(cgroupPath string) (int64, error) {
	return 0, pkgerrors.New(pkgerrors.CgroupFailure).WithMessage("cgroups are not supported on this platform")
}

func memoryPeakKB(cgroupPath string, procState *os.ProcessState) int64 {
	return 0
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	return 0, os.ErrNotExist
}
