package notify

import (
	"context"
	"fmt"
	"time"

	"mailping/internal/store"
)

// DelayPolicy resolves a recipient's configured notification delay into
// an absolute fire time. No side effects; the recipient's CURRENT delay
// setting is read on every call, so changing the setting affects the
// next message immediately.
type DelayPolicy struct {
	users store.UserStore
	now   func() time.Time
}

func NewDelayPolicy(users store.UserStore) *DelayPolicy {
	return &DelayPolicy{users: users, now: time.Now}
}

// WithClock overrides the policy's clock. Tests use this to get
// deterministic fire times.
func (p *DelayPolicy) WithClock(now func() time.Time) *DelayPolicy {
	cp := *p
	cp.now = now
	return &cp
}

// FireTime returns now + the recipient's delay. A missing recipient or a
// negative delay is a policy error, never a silent zero delay.
func (p *DelayPolicy) FireTime(ctx context.Context, recipientID string) (time.Time, error) {
	u, err := p.users.GetUser(ctx, recipientID)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolving notification delay: %w", err)
	}
	if u.NotificationDelayMinutes < 0 {
		return time.Time{}, fmt.Errorf("user %s has invalid notification delay %d",
			u.ID, u.NotificationDelayMinutes)
	}
	return p.now().Add(time.Duration(u.NotificationDelayMinutes) * time.Minute), nil
}
