package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailping/internal/domain"
)

type fakeUsers struct {
	users map[string]*domain.User
}

func (f *fakeUsers) CreateUser(ctx context.Context, u *domain.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SetNotificationDelay(ctx context.Context, id string, minutes int) error {
	u, ok := f.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.NotificationDelayMinutes = minutes
	return nil
}

func TestFireTimeUsesCurrentDelay(t *testing.T) {
	users := &fakeUsers{users: map[string]*domain.User{
		"u1": {ID: "u1", Email: "a@b.c", NotificationDelayMinutes: 5},
	}}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewDelayPolicy(users).WithClock(func() time.Time { return base })

	got, err := p.FireTime(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fire time: %v", err)
	}
	if want := base.Add(5 * time.Minute); !got.Equal(want) {
		t.Fatalf("fire time = %v, want %v", got, want)
	}

	// Changing the setting affects the next resolution immediately.
	if err := users.SetNotificationDelay(context.Background(), "u1", 30); err != nil {
		t.Fatalf("set delay: %v", err)
	}
	got, err = p.FireTime(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fire time: %v", err)
	}
	if want := base.Add(30 * time.Minute); !got.Equal(want) {
		t.Fatalf("fire time = %v, want %v", got, want)
	}
}

func TestFireTimeZeroDelay(t *testing.T) {
	users := &fakeUsers{users: map[string]*domain.User{
		"u1": {ID: "u1", Email: "a@b.c", NotificationDelayMinutes: 0},
	}}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewDelayPolicy(users).WithClock(func() time.Time { return base })

	got, err := p.FireTime(context.Background(), "u1")
	if err != nil {
		t.Fatalf("fire time: %v", err)
	}
	if !got.Equal(base) {
		t.Fatalf("fire time = %v, want %v (immediate)", got, base)
	}
}

func TestFireTimeErrors(t *testing.T) {
	users := &fakeUsers{users: map[string]*domain.User{
		"bad": {ID: "bad", Email: "a@b.c", NotificationDelayMinutes: -1},
	}}
	p := NewDelayPolicy(users)

	if _, err := p.FireTime(context.Background(), "missing"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
	if _, err := p.FireTime(context.Background(), "bad"); err == nil {
		t.Fatalf("expected error for negative delay")
	}
}
