package sandbox

import (
	"container/list"
	"context"
	"sync"

	pkgerrors "judgecore/pkg/errors"
)

// Demand is one request against the Resource Semaphore: a pending-job slot
// plus a number of reserved memory bytes.
type Demand struct {
	Jobs   int64
	Memory int64
}

// Permit is returned by Semaphore.Acquire. Release must be called exactly
// once; it returns the reservation to the pool and re-evaluates the head
// of the wait queue. A Permit with a nil semaphore is a no-op zero value.
type Permit struct {
	sem    *Semaphore
	demand Demand
	once   sync.Once
}

// Release returns the permit's reservation to the pool. Safe to call more
// than once; only the first call has effect.
func (p *Permit) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.once.Do(func() {
		p.sem.release(p.demand)
	})
}

type waiter struct {
	demand Demand
	ready  chan struct{}
	denied error
}

// Semaphore is a bounded pool over two resources — a discrete pending-job
// count and a bytes-of-memory reservation — with strict FIFO admission: a
// waiter that cannot currently be satisfied blocks every waiter behind it,
// so a large job is never starved by a stream of smaller ones. The wait
// queue itself is bounded by maxQueue: once that many callers are already
// blocked, a new Acquire fails fast with QueueFull instead of piling on
// indefinitely.
type Semaphore struct {
	mu sync.Mutex

	totalJobs   int64
	totalMemory int64
	maxQueue    int

	availJobs   int64
	availMemory int64

	queue *list.List // of *waiter
}

// NewSemaphore constructs a Semaphore with the given total capacity and a
// wait queue bounded to maxQueue pending callers. maxQueue <= 0 means the
// wait queue is unbounded.
func NewSemaphore(totalJobs, totalMemory int64, maxQueue int) *Semaphore {
	return &Semaphore{
		totalJobs:   totalJobs,
		totalMemory: totalMemory,
		maxQueue:    maxQueue,
		availJobs:   totalJobs,
		availMemory: totalMemory,
		queue:       list.New(),
	}
}

// Acquire blocks until the demand can be satisfied, ctx is cancelled, or the
// demand is impossible to ever satisfy (exceeds total capacity), in which
// case it fails fast with ImpossibleResource. If the wait queue is already
// at its bound, it fails fast with QueueFull instead of joining the queue.
func (s *Semaphore) Acquire(ctx context.Context, demand Demand) (*Permit, error) {
	if demand.Jobs > s.totalJobs || demand.Memory > s.totalMemory {
		return nil, pkgerrors.New(pkgerrors.ImpossibleResource).
			WithDetail("requested_jobs", demand.Jobs).
			WithDetail("requested_memory", demand.Memory).
			WithDetail("total_jobs", s.totalJobs).
			WithDetail("total_memory", s.totalMemory)
	}

	s.mu.Lock()
	if s.queue.Len() == 0 && s.tryTakeLocked(demand) {
		s.mu.Unlock()
		return &Permit{sem: s, demand: demand}, nil
	}

	if s.maxQueue > 0 && s.queue.Len() >= s.maxQueue {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.QueueFull).
			WithDetail("requested_jobs", demand.Jobs).
			WithDetail("queue_depth", s.queue.Len())
	}

	w := &waiter{demand: demand, ready: make(chan struct{})}
	elem := s.queue.PushBack(w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		if w.denied != nil {
			return nil, w.denied
		}
		return &Permit{sem: s, demand: demand}, nil
	case <-ctx.Done():
		s.mu.Lock()
		// If we were already granted concurrently with cancellation, honor
		// the grant rather than leak the reservation.
		select {
		case <-w.ready:
			s.mu.Unlock()
			if w.denied != nil {
				return nil, w.denied
			}
			return &Permit{sem: s, demand: demand}, nil
		default:
		}
		s.queue.Remove(elem)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// tryTakeLocked attempts to deduct demand from available capacity. Caller
// must hold s.mu.
func (s *Semaphore) tryTakeLocked(demand Demand) bool {
	if demand.Jobs > s.availJobs || demand.Memory > s.availMemory {
		return false
	}
	s.availJobs -= demand.Jobs
	s.availMemory -= demand.Memory
	return true
}

// release returns demand to the pool and re-evaluates the head waiter.
// Because admission is strict FIFO, waiters are granted in queue order:
// successive heads are woken while they fit, and the first head that does
// not fit stops the scan, so nothing behind it is granted ahead of it.
func (s *Semaphore) release(demand Demand) {
	s.mu.Lock()
	s.availJobs += demand.Jobs
	s.availMemory += demand.Memory

	for {
		front := s.queue.Front()
		if front == nil {
			break
		}
		w := front.Value.(*waiter)
		if !s.tryTakeLocked(w.demand) {
			break
		}
		s.queue.Remove(front)
		close(w.ready)
	}
	s.mu.Unlock()
}

// Capacity reports total and available capacity, for diagnostics/tests.
func (s *Semaphore) Capacity() (totalJobs, totalMemory, availJobs, availMemory int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalJobs, s.totalMemory, s.availJobs, s.availMemory
}
