package sandbox

import (
	"context"
	"os"
	"time"
)

// Aggregator composes a CGroupMonitor, OutputMonitor, and WalltimeMonitor
// into a single unit. WaitExhaust races all three and returns whichever
// fires first; a fired monitor does not itself terminate the child — the
// orchestrator above (Jailer Process Wrapper) is responsible for killing
// it once WaitExhaust returns.
type Aggregator struct {
	cgroup   *CGroupMonitor
	output   *OutputMonitor
	walltime *WalltimeMonitor
}

// NewAggregator composes the three monitors for one sandbox run.
func NewAggregator(cgroup *CGroupMonitor, output *OutputMonitor, walltime *WalltimeMonitor) *Aggregator {
	return &Aggregator{cgroup: cgroup, output: output, walltime: walltime}
}

// PollExhaust checks each monitor in order: memory/cpu (cgroup), output,
// walltime. Returns the first kind found, or MonitorNone.
func (a *Aggregator) PollExhaust() MonitorKind {
	if kind := a.cgroup.PollExhaust(); kind != MonitorNone {
		return kind
	}
	if kind := a.output.PollExhaust(); kind != MonitorNone {
		return kind
	}
	if kind := a.walltime.PollExhaust(); kind != MonitorNone {
		return kind
	}
	return MonitorNone
}

// WaitExhaust races the cgroup and walltime waits (the output monitor has
// no independent waiter — it is polled inline with the others since it is
// latched synchronously as bytes are copied) and returns the first
// MonitorKind to fire. Cancellation-safe: ctx cancellation unblocks the
// race and returns MonitorNone, ctx.Err().
func (a *Aggregator) WaitExhaust(ctx context.Context) (MonitorKind, error) {
	type result struct {
		kind MonitorKind
		err  error
	}
	results := make(chan result, 2)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		kind, err := a.cgroup.WaitExhaust(raceCtx)
		results <- result{kind, err}
	}()
	go func() {
		kind, err := a.walltime.WaitExhaust(raceCtx)
		results <- result{kind, err}
	}()

	// Poll the output monitor on a fixed 60ms cadence (the CGroupMonitor's
	// default accuracy) so a latched truncation surfaces promptly even
	// though it has no blocking waiter of its own.
	pollEvery := 60 * time.Millisecond
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err != nil && ctx.Err() != nil {
				return MonitorNone, ctx.Err()
			}
			if r.kind != MonitorNone {
				return r.kind, nil
			}
		case <-ticker.C:
			if kind := a.output.PollExhaust(); kind != MonitorNone {
				return kind, nil
			}
			i-- // this tick did not consume a goroutine result
		case <-ctx.Done():
			return MonitorNone, ctx.Err()
		}
	}
	return MonitorNone, nil
}

// Stat collects final usage from all three monitors into one Stat.
func (a *Aggregator) Stat(procState *os.ProcessState, started time.Time) Stat {
	cpu := a.cgroup.Stat(procState)
	peak := a.cgroup.MemoryPeak(procState)
	return Stat{
		CPU: cpu,
		Memory: MemStat{
			Total: peak,
			Peak:  peak,
		},
		OutputBytes: a.output.Stat(),
		Walltime:    time.Since(started),
	}
}

// Close tears down the cgroup monitor. Output and walltime monitors need no
// explicit teardown.
func (a *Aggregator) Close(ctx context.Context) {
	a.cgroup.Close(ctx)
}
