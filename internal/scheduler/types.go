package scheduler

import (
	"context"
	"time"

	"mailping/internal/domain"
)

// Scheduler schedules one-shot notification jobs and supports best-effort
// cancellation by handle.
//
// Cancel returns true only when it prevented a future execution. False
// covers unknown handles, jobs that already fired and jobs already
// cancelled; it is a normal outcome, never an error. Callers must not
// assume cancel always wins even when invoked before the nominal fire
// time: the executor may have claimed the job already. The notification
// task's live re-check is what keeps that race harmless.
type Scheduler interface {
	Schedule(ctx context.Context, fireAt time.Time, messageID string) (string, error)
	Cancel(ctx context.Context, handle string) bool
}

// TaskFunc is the registered callback invoked with a job's payload at or
// after its fire time, at-least-once. A non-nil error marks a retryable
// failure; benign no-op results come back as outcomes with a nil error.
type TaskFunc func(ctx context.Context, messageID string) (domain.Outcome, error)

// Config controls job execution.
type Config struct {
	Workers   int
	QueueSize int

	// TaskTimeout bounds a single execution attempt.
	TaskTimeout time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// SweepEvery is the interval of the overdue-job sweep.
	SweepEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	return c
}

// job is one claimed unit of work handed to the worker pool.
type job struct {
	handle    string
	messageID string
}
