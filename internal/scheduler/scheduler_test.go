package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"mailping/internal/domain"
	"mailping/internal/store"
	"mailping/pkg/logx"
)

func openTestJobs(t *testing.T) store.JobStore {
	t.Helper()
	s, err := store.Open(store.Config{
		Path:        filepath.Join(t.TempDir(), "sched.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestScheduleExecutesTask(t *testing.T) {
	jobs := openTestJobs(t)
	s := New(Config{Workers: 1}, jobs, logx.Nop(), nil)

	var got atomic.Value
	s.RegisterTask(func(ctx context.Context, messageID string) (domain.Outcome, error) {
		got.Store(messageID)
		return domain.OutcomeSent, nil
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	if _, err := s.Schedule(ctx, time.Now().Add(20*time.Millisecond), "msg-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, func() bool { return got.Load() != nil }, "task execution")
	if id := got.Load().(string); id != "msg-1" {
		t.Fatalf("task ran with message id %q, want msg-1", id)
	}
}

func TestCancelBeforeFirePreventsExecution(t *testing.T) {
	jobs := openTestJobs(t)
	s := New(Config{Workers: 1}, jobs, logx.Nop(), nil)

	var ran atomic.Int32
	s.RegisterTask(func(ctx context.Context, messageID string) (domain.Outcome, error) {
		ran.Add(1)
		return domain.OutcomeSent, nil
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	handle, err := s.Schedule(ctx, time.Now().Add(time.Hour), "msg-1")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !s.Cancel(ctx, handle) {
		t.Fatalf("cancel of pending job must succeed")
	}

	// The handle is consumed: a second cancel reports false.
	if s.Cancel(ctx, handle) {
		t.Fatalf("repeat cancel must report false")
	}
	if s.Cancel(ctx, "unknown-handle") {
		t.Fatalf("cancel of unknown handle must report false")
	}

	time.Sleep(100 * time.Millisecond)
	if n := ran.Load(); n != 0 {
		t.Fatalf("cancelled task ran %d times", n)
	}
}

func TestCancelAfterFireReportsFalse(t *testing.T) {
	jobs := openTestJobs(t)
	s := New(Config{Workers: 1}, jobs, logx.Nop(), nil)

	var ran atomic.Int32
	s.RegisterTask(func(ctx context.Context, messageID string) (domain.Outcome, error) {
		ran.Add(1)
		return domain.OutcomeSent, nil
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	handle, err := s.Schedule(ctx, time.Now(), "msg-1")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, func() bool { return ran.Load() == 1 }, "task execution")

	if s.Cancel(ctx, handle) {
		t.Fatalf("cancel after fire must report false")
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	jobs := openTestJobs(t)
	s := New(Config{
		Workers:   1,
		RetryMax:  3,
		RetryBase: 5 * time.Millisecond,
	}, jobs, logx.Nop(), nil)

	var attempts atomic.Int32
	s.RegisterTask(func(ctx context.Context, messageID string) (domain.Outcome, error) {
		if attempts.Add(1) < 3 {
			return domain.OutcomeFailed, errors.New("transient")
		}
		return domain.OutcomeSent, nil
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	if _, err := s.Schedule(ctx, time.Now(), "msg-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, func() bool { return attempts.Load() == 3 }, "retries to settle")
}

func TestStartRebuildsPersistedJobs(t *testing.T) {
	jobs := openTestJobs(t)
	ctx := context.Background()

	// Job persisted before this instance existed, already overdue.
	err := jobs.CreateJob(ctx, &store.Job{
		Handle:    "h-restart",
		MessageID: "msg-1",
		FireAt:    time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	s := New(Config{Workers: 1}, jobs, logx.Nop(), nil)
	var ran atomic.Int32
	s.RegisterTask(func(ctx context.Context, messageID string) (domain.Outcome, error) {
		ran.Add(1)
		return domain.OutcomeSent, nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	waitFor(t, func() bool { return ran.Load() == 1 }, "rebuilt job to execute")
}

func TestStopReturnsWhileSweepInFlight(t *testing.T) {
	jobs := openTestJobs(t)
	ctx := context.Background()

	s := New(Config{
		Workers:    1,
		QueueSize:  2,
		SweepEvery: 10 * time.Millisecond,
	}, jobs, logx.Nop(), nil)
	s.RegisterTask(func(ctx context.Context, messageID string) (domain.Outcome, error) {
		time.Sleep(30 * time.Millisecond)
		return domain.OutcomeSent, nil
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Overdue jobs inserted after Start have no armed timer, so only the
	// sweep can claim them; the slow task keeps the queue backed up while
	// sweeps are in flight.
	for i := 0; i < 200; i++ {
		err := jobs.CreateJob(ctx, &store.Job{
			Handle:    fmt.Sprintf("h-%d", i),
			MessageID: fmt.Sprintf("m-%d", i),
			FireAt:    time.Now().Add(-time.Minute),
		})
		if err != nil {
			t.Fatalf("create job %d: %v", i, err)
		}
	}
	time.Sleep(40 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Stop(stopCtx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatalf("Stop did not return while a sweep was in flight")
	}
}

func TestClaimedJobReturnsToPendingWhenNotRunning(t *testing.T) {
	jobs := openTestJobs(t)
	ctx := context.Background()
	s := New(Config{}, jobs, logx.Nop(), nil)

	err := jobs.CreateJob(ctx, &store.Job{
		Handle:    "h1",
		MessageID: "m1",
		FireAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// A stopped scheduler cannot hand the claimed job to a worker; the
	// claim must be undone so a later start's sweep picks it up.
	s.fire("h1", "m1")

	pending, err := jobs.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("pending jobs: %v", err)
	}
	if len(pending) != 1 || pending[0].Handle != "h1" {
		t.Fatalf("pending = %+v, want the released job", pending)
	}
}

func TestStartRequiresTask(t *testing.T) {
	s := New(Config{}, openTestJobs(t), logx.Nop(), nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error starting without a registered task")
	}
}

func TestBackoffDelayStaysBounded(t *testing.T) {
	s := New(Config{
		RetryBase:     100 * time.Millisecond,
		RetryMaxDelay: time.Second,
	}, nil, logx.Nop(), nil)

	for retry := 1; retry <= 10; retry++ {
		d := s.backoffDelay(retry)
		if d < 0 || d > s.cfg.RetryMaxDelay {
			t.Fatalf("retry %d: delay %v out of bounds", retry, d)
		}
	}
}
