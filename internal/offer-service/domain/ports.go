package domain

import (
	"context"
	"time"

	tripdomain "ridepool/internal/trip-service/domain"
)

// VisibilityRecorder persists which driver saw which trip offer and how
// it ended. It is write-only from the arbitration path: nothing in the
// offer flow ever reads it back, so recording failures must never block
// or fail an offer.
type VisibilityRecorder interface {
	RecordShown(ctx context.Context, tripID, driverID string, shownAt time.Time) error
	RecordResponse(ctx context.Context, tripID, driverID string, action ResponseAction, respondedAt time.Time) error
}

// AssignmentStore durably assigns a winning driver to a trip. The
// implementation re-validates everything against current rows inside
// its own transaction; winning the in-memory claim guarantees nothing
// about durable state.
type AssignmentStore interface {
	AssignDriver(ctx context.Context, tripID, driverID string) (*tripdomain.Trip, error)
}

// PresenceStore tracks which drivers are currently online and free to
// receive offers.
type PresenceStore interface {
	SetAvailable(ctx context.Context, driverID string) error
	SetUnavailable(ctx context.Context, driverID string) error
	IsAvailable(ctx context.Context, driverID string) (bool, error)
	PickCandidate(ctx context.Context, exclude []string) (string, error)
}

// Event mirrors the trip service's broker contract for offer outcomes.
type Event interface {
	EventType() string
	RoutingKey() string
}

// OfferOutcomeEvent is published for every resolved or shown offer.
type OfferOutcomeEvent struct {
	TripID     string    `json:"trip_id"`
	DriverID   string    `json:"driver_id"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e OfferOutcomeEvent) EventType() string  { return "offer." + e.Outcome }
func (e OfferOutcomeEvent) RoutingKey() string { return "offer." + e.Outcome }

// EventPublisher delivers offer events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
