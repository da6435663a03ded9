package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mailping/internal/eventbus"
	"mailping/internal/store"
	"mailping/pkg/logx"
)

// Service is the production Scheduler: every job is persisted, armed with
// an in-process timer and executed on a worker pool. Cancellation and
// firing both go through atomic state claims in the job store, so the
// instance that cancels does not need to be the instance that would have
// executed (only the store is shared).
//
// A cron sweep re-claims overdue pending jobs whose timer was lost to a
// restart or a transient claim failure; combined with the persisted
// pending set this gives at-least-once execution across restarts.
type Service struct {
	mu sync.Mutex

	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	jobs store.JobStore
	task TaskFunc

	c      *cron.Cron
	queue  chan job
	stopCh chan struct{}
	wg     sync.WaitGroup

	// one-shot timers, keyed by job handle
	tmu    sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, jobs store.JobStore, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		jobs:   jobs,
		timers: map[string]*time.Timer{},
	}
}

// RegisterTask installs the callback executed for every fired job.
// Must be called before Start.
func (s *Service) RegisterTask(task TaskFunc) {
	s.mu.Lock()
	s.task = task
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	if s.task == nil {
		return errors.New("scheduler: no task registered")
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan job, s.cfg.QueueSize)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, s.stopCh, s.queue, i)
	}

	// Rebuild timers from persisted pending jobs; overdue ones fire now.
	pending, err := s.jobs.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading pending jobs: %w", err)
	}
	for _, j := range pending {
		s.armTimer(j.Handle, j.MessageID, j.FireAt)
	}

	s.c = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.SweepEvery.String())
	if _, err := s.c.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("scheduler: registering sweep: %w", err)
	}
	s.c.Start()

	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("rebuilt", len(pending)),
		logx.Duration("sweep_every", s.cfg.SweepEvery))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	c := s.c
	s.c = nil
	q := s.queue
	s.queue = nil
	s.mu.Unlock()

	// Wait for the cron sweep outside the mutex: a mid-flight sweep goes
	// through fire -> enqueue, which needs s.mu, so holding it here would
	// deadlock against cron's stop context.
	if c != nil {
		<-c.Stop().Done()
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for workers")
	}

	// Queued entries the workers never picked up go back to pending.
drain:
	for {
		select {
		case j := <-q:
			s.release(j)
		default:
			break drain
		}
	}

	s.log.Info("scheduler stopped")
}

// Schedule persists a job for messageID and arms its timer. The returned
// handle is opaque to callers; they only hand it back to Cancel.
func (s *Service) Schedule(ctx context.Context, fireAt time.Time, messageID string) (string, error) {
	handle := uuid.New().String()
	j := &store.Job{
		Handle:    handle,
		MessageID: messageID,
		FireAt:    fireAt,
	}
	if err := s.jobs.CreateJob(ctx, j); err != nil {
		return "", fmt.Errorf("scheduling notification for message %s: %w", messageID, err)
	}

	s.armTimer(handle, messageID, fireAt)

	s.publish("job.scheduled", JobEvent{Handle: handle, MessageID: messageID, FireAt: fireAt})
	s.log.Debug("job scheduled",
		logx.String("handle", handle),
		logx.String("message_id", messageID),
		logx.Time("fire_at", fireAt))
	return handle, nil
}

// Cancel attempts to prevent a scheduled job from executing. Best-effort:
// the claim can lose against a concurrent fire, and a store error is
// reported as false rather than raised, because the caller's only
// decision is whether to trust that no notification will go out.
func (s *Service) Cancel(ctx context.Context, handle string) bool {
	if handle == "" {
		return false
	}

	ok, err := s.jobs.ClaimCancelled(ctx, handle)
	if err != nil {
		s.log.Warn("job cancel failed", logx.String("handle", handle), logx.Err(err))
		return false
	}
	if !ok {
		s.log.Debug("job cancel lost (already fired, cancelled or unknown)",
			logx.String("handle", handle))
		return false
	}

	s.disarmTimer(handle)

	s.publish("job.cancelled", JobEvent{Handle: handle})
	s.log.Debug("job cancelled", logx.String("handle", handle))
	return true
}

func (s *Service) armTimer(handle, messageID string, fireAt time.Time) {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	s.tmu.Lock()
	if t, ok := s.timers[handle]; ok {
		_ = t.Stop()
	}
	s.timers[handle] = time.AfterFunc(delay, func() {
		s.fire(handle, messageID)
	})
	s.tmu.Unlock()
}

func (s *Service) disarmTimer(handle string) {
	s.tmu.Lock()
	if t, ok := s.timers[handle]; ok {
		_ = t.Stop()
		delete(s.timers, handle)
	}
	s.tmu.Unlock()
}

// fire claims the job and hands it to the worker pool. A lost claim means
// a cancel (or another instance) won; a claim error leaves the job
// pending for the sweep to retry.
func (s *Service) fire(handle, messageID string) {
	s.tmu.Lock()
	delete(s.timers, handle)
	s.tmu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := s.jobs.ClaimFired(ctx, handle)
	if err != nil {
		s.log.Warn("job fire claim failed; leaving for sweep",
			logx.String("handle", handle), logx.Err(err))
		return
	}
	if !ok {
		s.log.Debug("job fire lost (cancelled elsewhere)", logx.String("handle", handle))
		return
	}

	s.publish("job.fired", JobEvent{Handle: handle, MessageID: messageID})
	s.enqueue(job{handle: handle, messageID: messageID})
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	q := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	if q == nil || stopCh == nil {
		s.release(j)
		return
	}
	// Blocking send: a claimed job must not be silently lost on a full
	// queue; backpressure on the firing goroutine is acceptable here.
	select {
	case q <- j:
	case <-stopCh:
		s.release(j)
	}
}

// release returns a claimed job to pending so the sweep, typically after
// a restart, executes it instead of losing it in the shutdown window.
func (s *Service) release(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := s.jobs.ReleaseJob(ctx, j.handle)
	if err != nil {
		s.log.Warn("releasing claimed job failed",
			logx.String("handle", j.handle), logx.Err(err))
		return
	}
	if ok {
		s.log.Info("claimed job released for later execution",
			logx.String("handle", j.handle))
	}
}

// sweep claims and executes overdue pending jobs that have no armed
// timer. Jobs with a live timer are left alone.
func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	due, err := s.jobs.DueJobs(ctx, time.Now())
	if err != nil {
		s.log.Warn("job sweep failed", logx.Err(err))
		return
	}
	for _, j := range due {
		s.tmu.Lock()
		_, armed := s.timers[j.Handle]
		s.tmu.Unlock()
		if armed {
			continue
		}
		s.log.Info("sweeping overdue job",
			logx.String("handle", j.Handle),
			logx.Time("fire_at", j.FireAt))
		s.fire(j.Handle, j.MessageID)
	}
}

func (s *Service) publish(typ string, data JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// JobEvent is the bus payload for job lifecycle events.
type JobEvent struct {
	Handle    string    `json:"handle"`
	MessageID string    `json:"message_id,omitempty"`
	FireAt    time.Time `json:"fire_at,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Error     string    `json:"error,omitempty"`
}
