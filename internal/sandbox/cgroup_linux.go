//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"go.uber.org/zap"
)

func createRunCgroup(parentPath, submissionID, testID string) (string, func(), error) {
	if parentPath == "" {
		return "", func() {}, pkgerrors.ValidationError("cgroup_parent", "required")
	}
	runDir := fmt.Sprintf("%s-%d", testID, time.Now().UnixNano())
	cgroupPath := filepath.Join(parentPath, submissionID, runDir)
	if err := os.MkdirAll(cgroupPath, 0o750); err != nil {
		return "", func() {}, pkgerrors.Wrapf(err, pkgerrors.CgroupFailure, "create cgroup path failed")
	}
	cleanup := func() {
		if err := os.Remove(cgroupPath); err != nil && !os.IsNotExist(err) {
			logger.Warn(context.Background(), "cgroup removal failed", zap.Error(err), zap.String("cgroup_path", cgroupPath))
		}
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, limit Limit) error {
	if limit.MemTotal > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limit.MemTotal, 10)); err != nil {
			return fmt.Errorf("write memory.max: %w", err)
		}
	}
	swap := limit.MemSwap
	if err := writeCgroupValue(cgroupPath, "memory.swap.max", strconv.FormatInt(swap, 10)); err != nil {
		return fmt.Errorf("write memory.swap.max: %w", err)
	}
	// Short period lets the poller observe cpu overruns within one tick
	// instead of waiting out a full 100ms accounting window.
	const periodUs = 60_000
	quotaUs := "max"
	if limit.CPUTotalUs > 0 {
		quotaUs = strconv.FormatInt(periodUs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "cpu.max", fmt.Sprintf("%s %d", quotaUs, periodUs)); err != nil {
		return fmt.Errorf("write cpu.max: %w", err)
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return pkgerrors.ValidationError("pid", "invalid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0o600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			v, _ := strconv.ParseInt(fields[1], 10, 64)
			return v > 0
		}
	}
	return false
}

func cgroupCPUTimeMs(cgroupPath string) (int64, error) {
	if cgroupPath == "" {
		return 0, pkgerrors.ValidationError("cgroup_path", "required")
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "cpu.stat"))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, pkgerrors.CgroupFailure, "read cpu.stat failed")
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "usage_usec" {
			v, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, pkgerrors.Wrapf(err, pkgerrors.CgroupFailure, "parse usage_usec failed")
			}
			return v / 1000, nil
		}
	}
	return 0, pkgerrors.New(pkgerrors.CgroupFailure).WithMessage("usage_usec not found in cpu.stat")
}

func memoryPeakKB(cgroupPath string, procState *os.ProcessState) int64 {
	if cgroupPath != "" {
		if v, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && v > 0 {
			return v / 1024
		}
	}
	if procState == nil {
		return 0
	}
	if usage, ok := procState.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0o640)
}
