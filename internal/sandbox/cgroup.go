package sandbox

import (
	"context"
	"os"
	"time"

	"judgecore/pkg/utils/logger"

	pkgerrors "judgecore/pkg/errors"

	"go.uber.org/zap"
)

// CGroupConfig configures where and how a run's cgroup is created.
type CGroupConfig struct {
	// ParentPath is the cgroup directory new run cgroups are created under.
	ParentPath string
	// Version selects the cgroup backend, "v1" or "v2".
	Version string
	// Accuracy is the polling period; spec.md recommends 40-80ms so cpu
	// overruns are caught early against a matching short cpu.max period.
	Accuracy time.Duration
}

// CGroupMonitor creates a fresh cgroup for one sandbox run, applies cpu and
// memory limits, polls for exhaustion, and removes the cgroup on Close.
type CGroupMonitor struct {
	cfg          CGroupConfig
	limit        Limit
	path         string
	cleanupDir   func()
	latched      MonitorKind
	submissionID string
	testID       string
}

// NewCGroupMonitor creates a fresh cgroup under cfg.ParentPath and applies
// limit. The caller must Close the monitor to guarantee the cgroup is
// removed and any remaining tasks killed.
func NewCGroupMonitor(cfg CGroupConfig, submissionID, testID string, limit Limit) (*CGroupMonitor, error) {
	if cfg.Accuracy <= 0 {
		cfg.Accuracy = 60 * time.Millisecond
	}
	path, cleanup, err := createRunCgroup(cfg.ParentPath, submissionID, testID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CgroupFailure)
	}
	m := &CGroupMonitor{cfg: cfg, limit: limit, path: path, cleanupDir: cleanup, submissionID: submissionID, testID: testID}
	if err := applyCgroupLimits(path, limit); err != nil {
		m.Close(context.Background())
		return nil, pkgerrors.Wrap(err, pkgerrors.CgroupFailure)
	}
	return m, nil
}

// Path returns the cgroup's filesystem path, or "" for a nil monitor.
func (m *CGroupMonitor) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

// Attach moves pid into the run's cgroup. Must be called once the jailed
// child has been spawned.
func (m *CGroupMonitor) Attach(pid int) error {
	if m == nil {
		return nil
	}
	if err := addProcessToCgroup(m.path, pid); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CgroupFailure)
	}
	return nil
}

// PollExhaust is a non-blocking check of whether cpu or memory has been
// exhausted. It latches: once a kind is found, it is returned on every
// subsequent call even if the underlying counters later look transient. A
// nil monitor (no cgroup backend available) never reports exhaustion.
func (m *CGroupMonitor) PollExhaust() MonitorKind {
	if m == nil {
		return MonitorNone
	}
	if m.latched != MonitorNone {
		return m.latched
	}
	if wasOomKilled(m.path) {
		m.latched = MonitorMemory
		return m.latched
	}
	cpuUs, err := cgroupCPUTimeMs(m.path)
	if err == nil && m.limit.CPUTotalUs > 0 && cpuUs*1000 > m.limit.CPUTotalUs {
		m.latched = MonitorCPU
		return m.latched
	}
	return MonitorNone
}

// WaitExhaust polls at cfg.Accuracy until a bound is hit or ctx is done.
// Cancellation-safe: on ctx cancellation it returns MonitorNone, ctx.Err().
func (m *CGroupMonitor) WaitExhaust(ctx context.Context) (MonitorKind, error) {
	if m == nil {
		<-ctx.Done()
		return MonitorNone, ctx.Err()
	}
	ticker := time.NewTicker(m.cfg.Accuracy)
	defer ticker.Stop()
	for {
		if kind := m.PollExhaust(); kind != MonitorNone {
			return kind, nil
		}
		select {
		case <-ctx.Done():
			return MonitorNone, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stat reads final cpu usage from the cgroup's cpu.stat. Only the total
// usage_usec line is read, not the kernel/user split, so Kernel/User are
// left zero and Total carries the measured value.
func (m *CGroupMonitor) Stat(procState *os.ProcessState) CPUStat {
	if m == nil {
		return CPUStat{}
	}
	cpuMs, _ := cgroupCPUTimeMs(m.path)
	return CPUStat{TotalUs: cpuMs * 1000}
}

// MemoryPeak returns peak memory usage in bytes observed during the run.
func (m *CGroupMonitor) MemoryPeak(procState *os.ProcessState) int64 {
	if m == nil {
		return 0
	}
	return memoryPeakKB(m.path, procState) * 1024
}

// Close kills any remaining tasks in the cgroup and removes it. Background
// failures are logged at Warn and never surfaced, per spec.md §7.
func (m *CGroupMonitor) Close(ctx context.Context) {
	if m == nil || m.path == "" {
		return
	}
	if err := killCgroup(m.path); err != nil && !os.IsNotExist(err) {
		logger.Warn(ctx, "cgroup kill failed, tasks may remain", zap.Error(err), zap.String("cgroup_path", m.path))
	}
	if m.cleanupDir != nil {
		m.cleanupDir()
	}
}
