package service

import (
	"context"
	"errors"
	"strings"

	"ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

// BookSeatsCommand carries the input for booking seats on a trip.
type BookSeatsCommand struct {
	TripID  string
	UserID  string
	Seats   int
	Pending bool
	Note    string
}

// BookSeatsUseCase atomically decrements trip capacity and creates a
// booking. The ledger does all shared-state mutation inside one
// transaction; this layer validates input and publishes the outcome.
type BookSeatsUseCase struct {
	ledger    domain.Ledger
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewBookSeatsUseCase(ledger domain.Ledger, publisher domain.EventPublisher, log logger.Logger) *BookSeatsUseCase {
	return &BookSeatsUseCase{
		ledger:    ledger,
		publisher: publisher,
		log:       log,
	}
}

func (uc *BookSeatsUseCase) Execute(ctx context.Context, cmd BookSeatsCommand) (*domain.LedgerResult, error) {
	log := uc.log.WithFields(logger.LogFields{
		"trip_id": cmd.TripID,
		"user_id": cmd.UserID,
		"seats":   cmd.Seats,
	})

	// 1. Validate input before touching shared state.
	if strings.TrimSpace(cmd.TripID) == "" || strings.TrimSpace(cmd.UserID) == "" {
		return nil, domain.ErrTripNotFound
	}
	if cmd.Seats <= 0 {
		return nil, domain.ErrInvalidSeatCount
	}

	// 2. Run the booking transaction. On a version conflict retry once:
	// the loser of a race re-reads fresh state and usually succeeds, or
	// fails with the real reason (no seats left, trip filled up).
	result, err := uc.ledger.BookSeats(ctx, domain.BookSeatsParams{
		TripID:  cmd.TripID,
		UserID:  cmd.UserID,
		Seats:   cmd.Seats,
		Pending: cmd.Pending,
		Note:    cmd.Note,
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		log.Debug("book_seats_retry", "Version conflict on first attempt, retrying once")
		result, err = uc.ledger.BookSeats(ctx, domain.BookSeatsParams{
			TripID:  cmd.TripID,
			UserID:  cmd.UserID,
			Seats:   cmd.Seats,
			Pending: cmd.Pending,
			Note:    cmd.Note,
		})
	}
	if err != nil {
		return nil, err
	}

	log = log.WithFields(logger.LogFields{"booking_id": result.Booking.ID})
	log.Info("seats_booked", "Booking created")

	// 3. Publish committed-state events. Delivery failures are logged,
	// the booking already committed and must not be rolled back.
	uc.publishEvents(ctx, result, log)

	return result, nil
}

func (uc *BookSeatsUseCase) publishEvents(ctx context.Context, result *domain.LedgerResult, log logger.Logger) {
	created := domain.BookingCreatedEvent{
		BookingID:      result.Booking.ID,
		TripID:         result.Trip.ID,
		UserID:         result.Booking.UserID,
		SeatsBooked:    result.Booking.SeatsBooked,
		BookingStatus:  result.Booking.Status,
		TripStatus:     result.Trip.Status,
		AvailableSeats: result.Trip.AvailableSeats,
		OccurredAt:     result.Trip.UpdatedAt,
	}
	if err := uc.publisher.Publish(ctx, created); err != nil {
		log.Error("publish_booking_created", err)
	}

	if result.OldStatus != result.Trip.Status {
		changed := domain.TripStatusChangedEvent{
			TripID:     result.Trip.ID,
			OldStatus:  result.OldStatus,
			NewStatus:  result.Trip.Status,
			OccurredAt: result.Trip.UpdatedAt,
		}
		if err := uc.publisher.Publish(ctx, changed); err != nil {
			log.Error("publish_trip_status_changed", err)
		}
	}
}
