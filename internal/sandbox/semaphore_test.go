package sandbox

import (
	"context"
	"testing"
	"time"

	pkgerrors "judgecore/pkg/errors"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	sem := NewSemaphore(2, 1024, 0)

	ctx := context.Background()
	p, err := sem.Acquire(ctx, Demand{Jobs: 1, Memory: 512})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, _, availJobs, availMemory := sem.Capacity()
	if availJobs != 1 || availMemory != 512 {
		t.Fatalf("unexpected availability after acquire: jobs=%d mem=%d", availJobs, availMemory)
	}

	p.Release()
	totalJobs, totalMemory, availJobs, availMemory := sem.Capacity()
	if availJobs != totalJobs || availMemory != totalMemory {
		t.Fatalf("capacity did not return to initial after release: got jobs=%d mem=%d want jobs=%d mem=%d",
			availJobs, availMemory, totalJobs, totalMemory)
	}
}

func TestSemaphoreImpossibleDemand(t *testing.T) {
	sem := NewSemaphore(1, 100, 0)
	_, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 200})
	if !pkgerrors.Is(err, pkgerrors.ImpossibleResource) {
		t.Fatalf("expected ImpossibleResource, got %v", err)
	}
}

func TestSemaphoreFIFOFairness(t *testing.T) {
	sem := NewSemaphore(1, 100, 0)

	first, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 100})
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A small waiter arrives after a large one; it must not jump the queue.
	largeDone := make(chan struct{})
	smallDone := make(chan struct{})
	order := make(chan string, 2)

	go func() {
		p, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 100})
		if err != nil {
			t.Errorf("large acquire: %v", err)
		}
		order <- "large"
		close(largeDone)
		p.Release()
	}()

	time.Sleep(20 * time.Millisecond) // ensure large is queued first

	go func() {
		p, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 10})
		if err != nil {
			t.Errorf("small acquire: %v", err)
		}
		order <- "small"
		close(smallDone)
		p.Release()
	}()

	time.Sleep(20 * time.Millisecond)
	first.Release()

	<-largeDone
	<-smallDone
	close(order)

	first_, ok := <-order
	if !ok || first_ != "large" {
		t.Fatalf("expected large waiter to be served first, got %q", first_)
	}
}

func TestSemaphoreAcquireContextCancel(t *testing.T) {
	sem := NewSemaphore(1, 100, 0)
	p, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 100})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = sem.Acquire(ctx, Demand{Jobs: 1, Memory: 1})
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestSemaphoreQueueFullWhenWaitQueueBoundReached(t *testing.T) {
	sem := NewSemaphore(1, 100, 1)

	held, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 100})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	blockedDone := make(chan struct{})
	go func() {
		defer close(blockedDone)
		p, err := sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 100})
		if err != nil {
			return
		}
		p.Release()
	}()
	time.Sleep(20 * time.Millisecond) // ensure the blocked waiter is queued

	_, err = sem.Acquire(context.Background(), Demand{Jobs: 1, Memory: 100})
	if !pkgerrors.Is(err, pkgerrors.QueueFull) {
		t.Fatalf("expected QueueFull, got %v", err)
	}

	held.Release()
	<-blockedDone
}
