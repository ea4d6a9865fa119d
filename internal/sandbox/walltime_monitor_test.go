package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestWalltimeMonitorFiresAfterDeadline(t *testing.T) {
	m := NewWalltimeMonitor(20 * time.Millisecond)
	if kind := m.PollExhaust(); kind != MonitorNone {
		t.Fatalf("expected no exhaustion immediately, got %v", kind)
	}
	kind, err := m.WaitExhaust(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if kind != MonitorWalltime {
		t.Fatalf("expected MonitorWalltime, got %v", kind)
	}
	if m.PollExhaust() != MonitorWalltime {
		t.Fatalf("expected poll to report MonitorWalltime after deadline")
	}
}

func TestWalltimeMonitorCancellation(t *testing.T) {
	m := NewWalltimeMonitor(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.WaitExhaust(ctx)
	if err == nil {
		t.Fatalf("expected context error")
	}
}
