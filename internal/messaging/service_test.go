package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mailping/internal/domain"
	"mailping/internal/notify"
	"mailping/pkg/logx"
)

type memUsers struct {
	users map[string]*domain.User
}

func (f *memUsers) CreateUser(ctx context.Context, u *domain.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *memUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *memUsers) SetNotificationDelay(ctx context.Context, id string, minutes int) error {
	u, ok := f.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.NotificationDelayMinutes = minutes
	return nil
}

type memMessages struct {
	messages     map[string]*domain.Message
	nextID       int
	setHandleErr error
}

func (f *memMessages) CreateMessage(ctx context.Context, m *domain.Message) error {
	f.nextID++
	m.ID = fmt.Sprintf("m%d", f.nextID)
	m.CreatedAt = time.Now().UTC()
	f.messages[m.ID] = m
	return nil
}

func (f *memMessages) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *memMessages) ListMessages(ctx context.Context) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, *m)
	}
	return out, nil
}

func (f *memMessages) SetJobHandle(ctx context.Context, id, handle string) error {
	if f.setHandleErr != nil {
		return f.setHandleErr
	}
	m, ok := f.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.JobHandle = handle
	return nil
}

func (f *memMessages) MarkRead(ctx context.Context, id string) (*domain.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	m.Read = true
	cp := *m
	return &cp, nil
}

func (f *memMessages) CountUnread(ctx context.Context, recipientID string) (int, error) {
	n := 0
	for _, m := range f.messages {
		if m.RecipientID == recipientID && !m.Read {
			n++
		}
	}
	return n, nil
}

// fakeScheduler tracks pending handles in memory with the same
// claim-once semantics as the persistent scheduler.
type fakeScheduler struct {
	pending     map[string]bool
	next        int
	scheduleErr error
	cancelDelay time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: map[string]bool{}}
}

func (f *fakeScheduler) Schedule(ctx context.Context, fireAt time.Time, messageID string) (string, error) {
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.next++
	h := fmt.Sprintf("h%d", f.next)
	f.pending[h] = true
	return h, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, handle string) bool {
	if f.cancelDelay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(f.cancelDelay):
		}
	}
	if !f.pending[handle] {
		return false
	}
	delete(f.pending, handle)
	return true
}

func newServiceFixture(t *testing.T) (*Service, *memMessages, *memUsers, *fakeScheduler) {
	t.Helper()
	messages := &memMessages{messages: map[string]*domain.Message{}}
	users := &memUsers{users: map[string]*domain.User{
		"alice": {ID: "alice", Email: "alice@example.com", NotificationDelayMinutes: 1},
		"bob":   {ID: "bob", Email: "bob@example.com", NotificationDelayMinutes: 5},
	}}
	sched := newFakeScheduler()
	policy := notify.NewDelayPolicy(users)
	svc := New(messages, users, sched, policy, 0, logx.Nop(), nil)
	return svc, messages, users, sched
}

func TestCreateMessageSchedulesNotification(t *testing.T) {
	svc, messages, _, sched := newServiceFixture(t)

	res, err := svc.CreateMessage(context.Background(), "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Message.ID == "" || res.Message.Read {
		t.Fatalf("unexpected message: %+v", res.Message)
	}
	if res.JobHandle == "" {
		t.Fatalf("expected a job handle")
	}
	if res.FireTime.IsZero() {
		t.Fatalf("expected a fire time")
	}
	if !sched.pending[res.JobHandle] {
		t.Fatalf("job %s not pending in scheduler", res.JobHandle)
	}
	stored := messages.messages[res.Message.ID]
	if stored.JobHandle != res.JobHandle {
		t.Fatalf("stored handle %q, want %q", stored.JobHandle, res.JobHandle)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	svc, _, _, _ := newServiceFixture(t)
	ctx := context.Background()

	if _, err := svc.CreateMessage(ctx, "alice", "bob", "   "); !domain.IsValidation(err) {
		t.Fatalf("empty body: err = %v, want validation error", err)
	}
	if _, err := svc.CreateMessage(ctx, "ghost", "bob", "hi"); !domain.IsValidation(err) {
		t.Fatalf("unknown sender: err = %v, want validation error", err)
	}
	if _, err := svc.CreateMessage(ctx, "alice", "ghost", "hi"); !domain.IsValidation(err) {
		t.Fatalf("unknown recipient: err = %v, want validation error", err)
	}
}

func TestCreateMessageDegradedWhenSchedulingFails(t *testing.T) {
	svc, messages, _, sched := newServiceFixture(t)
	sched.scheduleErr = errors.New("store down")

	res, err := svc.CreateMessage(context.Background(), "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("message creation must survive scheduling failure: %v", err)
	}
	if res.JobHandle != "" || !res.FireTime.IsZero() {
		t.Fatalf("degraded create must report no job: %+v", res)
	}
	if _, ok := messages.messages[res.Message.ID]; !ok {
		t.Fatalf("message not persisted")
	}
}

func TestCreateMessageDegradedWhenHandleWriteFails(t *testing.T) {
	svc, messages, _, _ := newServiceFixture(t)
	messages.setHandleErr = errors.New("disk full")

	res, err := svc.CreateMessage(context.Background(), "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The job was scheduled and stays live; the caller still learns the
	// handle even though the message row could not record it.
	if res.JobHandle == "" {
		t.Fatalf("expected job handle in result")
	}
	if messages.messages[res.Message.ID].JobHandle != "" {
		t.Fatalf("stored message must have no handle")
	}
}

func TestMarkReadCancelsNotification(t *testing.T) {
	svc, _, _, sched := newServiceFixture(t)
	ctx := context.Background()

	res, err := svc.CreateMessage(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	read, err := svc.MarkRead(ctx, res.Message.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !read.Message.Read {
		t.Fatalf("message not marked read")
	}
	if !read.NotificationCancelled {
		t.Fatalf("expected cancellation to win for a pending job")
	}
	if sched.pending[res.JobHandle] {
		t.Fatalf("job still pending after cancel")
	}

	// Second mark is idempotent; the consumed handle yields false.
	again, err := svc.MarkRead(ctx, res.Message.ID)
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if !again.Message.Read {
		t.Fatalf("message must stay read")
	}
	if again.NotificationCancelled {
		t.Fatalf("repeat mark must not report a fresh cancellation")
	}
}

func TestMarkReadAfterFireReportsNotCancelled(t *testing.T) {
	svc, _, _, sched := newServiceFixture(t)
	ctx := context.Background()

	res, err := svc.CreateMessage(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Simulate the executor winning the race.
	delete(sched.pending, res.JobHandle)

	read, err := svc.MarkRead(ctx, res.Message.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if read.NotificationCancelled {
		t.Fatalf("cancel must lose after fire")
	}
}

func TestMarkReadCancelTimeout(t *testing.T) {
	messages := &memMessages{messages: map[string]*domain.Message{}}
	users := &memUsers{users: map[string]*domain.User{
		"alice": {ID: "alice", Email: "a@b.c", NotificationDelayMinutes: 1},
		"bob":   {ID: "bob", Email: "b@b.c", NotificationDelayMinutes: 1},
	}}
	sched := newFakeScheduler()
	sched.cancelDelay = 500 * time.Millisecond
	svc := New(messages, users, sched, notify.NewDelayPolicy(users), 20*time.Millisecond, logx.Nop(), nil)
	ctx := context.Background()

	res, err := svc.CreateMessage(ctx, "alice", "bob", "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	start := time.Now()
	read, err := svc.MarkRead(ctx, res.Message.ID)
	if err != nil {
		t.Fatalf("mark read must survive a hanging cancel: %v", err)
	}
	if read.NotificationCancelled {
		t.Fatalf("timed-out cancel must report false")
	}
	if !read.Message.Read {
		t.Fatalf("read flag must persist regardless of cancel outcome")
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("mark read blocked %v on the cancel", elapsed)
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	svc, _, _, _ := newServiceFixture(t)
	if _, err := svc.MarkRead(context.Background(), "nope"); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestSetNotificationDelayValidation(t *testing.T) {
	svc, _, users, _ := newServiceFixture(t)
	ctx := context.Background()

	if err := svc.SetNotificationDelay(ctx, "bob", -1); !domain.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if err := svc.SetNotificationDelay(ctx, "bob", 0); err != nil {
		t.Fatalf("delay 0 must be allowed: %v", err)
	}
	if users.users["bob"].NotificationDelayMinutes != 0 {
		t.Fatalf("delay not applied")
	}
}
