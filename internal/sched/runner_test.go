package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_InvokesJobOnInterval(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	r.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	if got := runs.Load(); got < 2 {
		t.Errorf("expected at least 2 runs, got %d", got)
	}
}

func TestRunner_StopPreventsFurtherRuns(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	r.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	r.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Errorf("job ran after Stop: %d -> %d", after, got)
	}
}

func TestRunner_ErrorsDoNotStopTheLoop(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})

	r.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	r.Stop()

	if got := runs.Load(); got < 2 {
		t.Errorf("expected the loop to survive errors, got %d runs", got)
	}
}

func TestRunner_ParentContextCancelStopsLoop(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner("test", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	time.Sleep(30 * time.Millisecond)

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Errorf("job ran after parent cancel: %d -> %d", after, got)
	}
	r.Stop()
}
