// Package notify carries post-commit events to the notification
// collaborator. Delivery is best effort: a failed notification never undoes
// the ledger change that produced it.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event names emitted by the core.
const (
	EventPointsEarned      = "points.earned"
	EventPointsSpent       = "points.spent"
	EventWheelSpun         = "wheel.spun"
	EventRedemptionCreated = "redemption.created"
	EventRedemptionUpdated = "redemption.status_changed"
	EventClubUpgraded      = "club.upgraded"
)

type Event struct {
	Name      string         `json:"event"`
	UserID    string         `json:"user_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink accepts "notify user X of event Y with payload Z" requests.
type Sink interface {
	Notify(ctx context.Context, event, userID string, payload map[string]any) error
}

type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, event, userID string, payload map[string]any) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, event, userID, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
