package service

import (
	"context"
	"errors"
	"strings"

	"ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

type CancelBookingCommand struct {
	BookingID string
	UserID    string
}

// CancelBookingUseCase cancels a booking and returns its seats to the
// trip in one transaction. Cancelling an already-cancelled booking is a
// client error, not a no-op: seats must never be released twice.
type CancelBookingUseCase struct {
	ledger    domain.Ledger
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewCancelBookingUseCase(ledger domain.Ledger, publisher domain.EventPublisher, log logger.Logger) *CancelBookingUseCase {
	return &CancelBookingUseCase{
		ledger:    ledger,
		publisher: publisher,
		log:       log,
	}
}

func (uc *CancelBookingUseCase) Execute(ctx context.Context, cmd CancelBookingCommand) (*domain.LedgerResult, error) {
	log := uc.log.WithFields(logger.LogFields{
		"booking_id": cmd.BookingID,
		"user_id":    cmd.UserID,
	})

	if strings.TrimSpace(cmd.BookingID) == "" {
		return nil, domain.ErrBookingNotFound
	}

	result, err := uc.ledger.CancelBooking(ctx, cmd.BookingID, cmd.UserID)
	if errors.Is(err, domain.ErrConcurrentModification) {
		log.Debug("cancel_booking_retry", "Version conflict on first attempt, retrying once")
		result, err = uc.ledger.CancelBooking(ctx, cmd.BookingID, cmd.UserID)
	}
	if err != nil {
		return nil, err
	}

	log.Info("booking_cancelled", "Seats returned to trip")

	cancelled := domain.BookingCancelledEvent{
		BookingID:      result.Booking.ID,
		TripID:         result.Trip.ID,
		UserID:         result.Booking.UserID,
		SeatsReleased:  result.Booking.SeatsBooked,
		TripStatus:     result.Trip.Status,
		AvailableSeats: result.Trip.AvailableSeats,
		OccurredAt:     result.Trip.UpdatedAt,
	}
	if err := uc.publisher.Publish(ctx, cancelled); err != nil {
		log.Error("publish_booking_cancelled", err)
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

	return result, nil
}
