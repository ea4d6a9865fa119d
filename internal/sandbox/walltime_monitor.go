package sandbox

import (
	"context"
	"time"
)

// WalltimeMonitor is a simple deadline timer: wait_exhaust resolves with
// MonitorWalltime once the duration elapses.
type WalltimeMonitor struct {
	deadline time.Time
}

// NewWalltimeMonitor starts a deadline timer for d from now.
func NewWalltimeMonitor(d time.Duration) *WalltimeMonitor {
	return &WalltimeMonitor{deadline: time.Now().Add(d)}
}

// PollExhaust returns MonitorWalltime if the deadline has passed.
func (m *WalltimeMonitor) PollExhaust() MonitorKind {
	if time.Now().After(m.deadline) {
		return MonitorWalltime
	}
	return MonitorNone
}

// WaitExhaust blocks until the deadline or ctx cancellation, whichever is
// first. Cancellation-safe: an expired ctx just returns ctx.Err().
func (m *WalltimeMonitor) WaitExhaust(ctx context.Context) (MonitorKind, error) {
	d := time.Until(m.deadline)
	if d <= 0 {
		return MonitorWalltime, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return MonitorWalltime, nil
	case <-ctx.Done():
		return MonitorNone, ctx.Err()
	}
}
