//go:build linux

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// requireCgroupFS skips the test unless the current process can create
// cgroup directories under a real cgroup2 mount; sandboxed CI/dev
// containers frequently lack the permission even on Linux.
func requireCgroupFS(t *testing.T) string {
	t.Helper()
	const cgroupRoot = "/sys/fs/cgroup"
	probe := filepath.Join(cgroupRoot, "judgecore-probe")
	if err := os.Mkdir(probe, 0o750); err != nil {
		t.Skipf("cgroup2 not writable in this environment: %v", err)
	}
	_ = os.Remove(probe)
	return cgroupRoot
}

func TestCGroupMonitorLifecycle(t *testing.T) {
	root := requireCgroupFS(t)

	mon, err := NewCGroupMonitor(CGroupConfig{ParentPath: root}, "sub-1", "case-1", Limit{
		MemTotal:    64 * 1024 * 1024,
		CPUTotalUs:  1_000_000,
	})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	defer mon.Close(context.Background())

	if kind := mon.PollExhaust(); kind != MonitorNone {
		t.Fatalf("expected no exhaustion on fresh cgroup, got %v", kind)
	}
}
