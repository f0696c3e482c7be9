package domain

import "time"

// ResponseAction is the terminal outcome of a shown offer.
type ResponseAction string

const (
	ActionAccepted ResponseAction = "ACCEPTED"
	ActionDeclined ResponseAction = "DECLINED"
	ActionTimeout  ResponseAction = "TIMEOUT"
)

func (a ResponseAction) IsValid() bool {
	switch a {
	case ActionAccepted, ActionDeclined, ActionTimeout:
		return true
	}
	return false
}

// Offer is the externally visible snapshot of an outstanding claim on a
// trip. It is a copy: mutating it has no effect on the registry.
type Offer struct {
	TripID    string    `json:"trip_id"`
	DriverID  string    `json:"driver_id"`
	OfferedAt time.Time `json:"offered_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining returns how long the driver still has to respond.
func (o Offer) Remaining(now time.Time) time.Duration {
	if d := o.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the response window has closed.
func (o Offer) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
