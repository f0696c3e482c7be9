package service

import (
	"context"
	"strings"

	"ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

type FinishTripCommand struct {
	TripID     string
	OwnerID    string
	ToStatus   domain.TripStatus
	ForceAdmin bool
}

// FinishTripUseCase moves a trip into a terminal status. The ledger
// transaction also transitions every active booking and, when a driver
// was assigned, frees the driver again.
type FinishTripUseCase struct {
	ledger    domain.Ledger
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewFinishTripUseCase(ledger domain.Ledger, publisher domain.EventPublisher, log logger.Logger) *FinishTripUseCase {
	return &FinishTripUseCase{
		ledger:    ledger,
		publisher: publisher,
		log:       log,
	}
}

func (uc *FinishTripUseCase) Execute(ctx context.Context, cmd FinishTripCommand) (*domain.LedgerResult, error) {
	log := uc.log.WithFields(logger.LogFields{
		"trip_id": cmd.TripID,
		"status":  cmd.ToStatus,
	})

	if strings.TrimSpace(cmd.TripID) == "" {
		return nil, domain.ErrTripNotFound
	}
	if cmd.ToStatus != domain.StatusCompleted && cmd.ToStatus != domain.StatusCancelled {
		return nil, domain.ErrTripNotTransitionable
	}

	// Only the trip owner may finish a trip, unless an admin forces it.
	if !cmd.ForceAdmin {
		trip, err := uc.ledger.GetTrip(ctx, cmd.TripID)
		if err != nil {
			return nil, err
		}
		if trip.OwnerID != cmd.OwnerID {
			return nil, domain.ErrTripNotFound
		}
	}

	result, err := uc.ledger.FinishTrip(ctx, cmd.TripID, cmd.ToStatus)
	if err != nil {
		return nil, err
	}

	log.Info("trip_finished", "Trip moved to terminal status")

	changed := domain.TripStatusChangedEvent{
		TripID:     result.Trip.ID,
		OldStatus:  result.OldStatus,
		NewStatus:  result.Trip.Status,
		OccurredAt: result.Trip.UpdatedAt,
	}
	if err := uc.publisher.Publish(ctx, changed); err != nil {
		log.Error("publish_trip_status_changed", err)
	}

	return result, nil
}
