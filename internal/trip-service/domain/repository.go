package domain

import "context"

// BookSeatsParams carries everything needed to decrement capacity and
// create the booking row inside one transaction.
type BookSeatsParams struct {
	TripID  string
	UserID  string
	Seats   int
	Pending bool
	Note    string
}

// LedgerResult is the post-commit snapshot of a ledger mutation. Trip
// reflects the row as it was written, including the derived status.
type LedgerResult struct {
	Trip      *Trip
	Booking   *Booking
	OldStatus TripStatus
}

// Ledger is the transactional seat accounting port. Every method that
// mutates capacity runs as a single transaction: lock the trip row,
// validate, mutate, bump the version, commit.
type Ledger interface {
	CreateTrip(ctx context.Context, trip *Trip) (*Trip, error)
	BookSeats(ctx context.Context, params BookSeatsParams) (*LedgerResult, error)
	CancelBooking(ctx context.Context, bookingID, userID string) (*LedgerResult, error)
	FinishTrip(ctx context.Context, tripID string, to TripStatus) (*LedgerResult, error)
	BulkTransitionBookings(ctx context.Context, tripID string, from []BookingStatus, to BookingStatus) (int64, error)
	GetTrip(ctx context.Context, tripID string) (*Trip, error)
	GetBooking(ctx context.Context, bookingID string) (*Booking, error)
	ListBookingsByTrip(ctx context.Context, tripID string) ([]*Booking, error)
}

// EventPublisher delivers committed-state events to the broker. Failures
// are logged by callers, never surfaced to the client.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
