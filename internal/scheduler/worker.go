package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"mailping/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	defer s.wg.Done()
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, stopCh, j)
		}
	}
}

// execOne runs a claimed job through the registered task with bounded
// retries. Benign outcomes (already read, message gone) end the job on
// the first attempt; only task errors are retried.
func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked",
				logx.String("handle", j.handle),
				logx.String("message_id", j.messageID),
				logx.Any("panic", r))
		}
	}()

	start := time.Now()
	maxAttempts := 1 + s.cfg.RetryMax

	var (
		outcome  string
		err      error
		attempts int
	)
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		// Per-attempt timeout so a timed-out first attempt doesn't poison retries.
		runCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
		out, runErr := s.task(runCtx, j.messageID)
		cancel()
		outcome, err = string(out), runErr
		if err == nil {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := s.backoffDelay(attempt)
		s.log.Debug("task retry scheduled",
			logx.String("handle", j.handle),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			err = fmt.Errorf("scheduler stopped")
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed",
			logx.String("handle", j.handle),
			logx.String("message_id", j.messageID),
			logx.Err(err),
			logx.Duration("dur", dur),
			logx.Int("attempts", attempts))
		s.publish("job.failed", JobEvent{
			Handle:    j.handle,
			MessageID: j.messageID,
			Outcome:   outcome,
			Attempts:  attempts,
			Error:     err.Error(),
		})
		return
	}

	s.log.Debug("job completed",
		logx.String("handle", j.handle),
		logx.String("message_id", j.messageID),
		logx.String("outcome", outcome),
		logx.Duration("dur", dur),
		logx.Int("attempts", attempts))
}

func (s *Service) backoffDelay(retry int) time.Duration {
	// retry starts at 1 (first retry). Exponential growth, capped, with
	// +/-20% jitter.
	d := s.cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	j := (rand.Float64()*2 - 1) * 0.2
	d = time.Duration(float64(d) * (1 + j))
	if d < 0 {
		d = 0
	}
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	return d
}
