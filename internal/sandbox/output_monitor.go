package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// OutputMonitor forwards a child's stdout into a bounded in-memory buffer,
// truncating and latching MonitorOutput once the cap would be exceeded.
type OutputMonitor struct {
	cap int64

	mu       sync.Mutex
	buf      bytes.Buffer
	exceeded bool
}

// NewOutputMonitor returns a monitor that accepts at most capBytes.
func NewOutputMonitor(capBytes int64) *OutputMonitor {
	return &OutputMonitor{cap: capBytes}
}

// Copy reads from r until EOF or error, feeding bytes into the bounded
// buffer. It returns once r is drained (EOF) or a read error occurs; it
// does not stop early when the cap is hit, since the caller relies on the
// proxy running to completion to drain the pipe even after the cap trips
// (see Jailer Process Wrapper's "await stdout proxy to completion").
func (m *OutputMonitor) Copy(r io.Reader) error {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			m.feed(chunk[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (m *OutputMonitor) feed(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exceeded {
		return
	}
	remaining := m.cap - int64(m.buf.Len())
	if remaining <= 0 {
		m.exceeded = true
		return
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
		m.exceeded = true
	}
	m.buf.Write(p)
}

// PollExhaust returns MonitorOutput once the cap has been hit, else
// MonitorNone.
func (m *OutputMonitor) PollExhaust() MonitorKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exceeded {
		return MonitorOutput
	}
	return MonitorNone
}

// Bytes returns a copy of the captured output, always ≤ cap.
func (m *OutputMonitor) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.buf.Len())
	copy(out, m.buf.Bytes())
	return out
}

// Stat returns the total bytes received (post-truncation).
func (m *OutputMonitor) Stat() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(m.buf.Len())
}
