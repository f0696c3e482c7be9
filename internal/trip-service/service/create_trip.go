package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

var (
	ErrInvalidTotalSeats = errors.New("total seats must be between 1 and 8")
	ErrInvalidRoute      = errors.New("origin and destination are required")
	ErrDepartureInPast   = errors.New("departure time must be in the future")
)

type CreateTripCommand struct {
	OwnerID     string
	TotalSeats  int
	Origin      string
	Destination string
	DepartsAt   time.Time
	Draft       bool
}

// CreateTripUseCase publishes a new trip with its full capacity
// available. Created trips start at version 0.
type CreateTripUseCase struct {
	ledger    domain.Ledger
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewCreateTripUseCase(ledger domain.Ledger, publisher domain.EventPublisher, log logger.Logger) *CreateTripUseCase {
	return &CreateTripUseCase{
		ledger:    ledger,
		publisher: publisher,
		log:       log,
	}
}

func (uc *CreateTripUseCase) Execute(ctx context.Context, cmd CreateTripCommand) (*domain.Trip, error) {
	if cmd.TotalSeats < 1 || cmd.TotalSeats > 8 {
		return nil, ErrInvalidTotalSeats
	}
	if strings.TrimSpace(cmd.Origin) == "" || strings.TrimSpace(cmd.Destination) == "" {
		return nil, ErrInvalidRoute
	}
	if !cmd.DepartsAt.After(time.Now()) {
		return nil, ErrDepartureInPast
	}

	status := domain.StatusPublished
	if cmd.Draft {
		status = domain.StatusDraft
	}

	trip := &domain.Trip{
		ID:             uuid.NewString(),
		OwnerID:        cmd.OwnerID,
		Status:         status,
		TotalSeats:     cmd.TotalSeats,
		AvailableSeats: cmd.TotalSeats,
		Origin:         cmd.Origin,
		Destination:    cmd.Destination,
		DepartsAt:      cmd.DepartsAt,
	}

	created, err := uc.ledger.CreateTrip(ctx, trip)
	if err != nil {
		return nil, err
	}

	log := uc.log.WithFields(logger.LogFields{"trip_id": created.ID, "owner_id": created.OwnerID})
	log.Info("trip_created", "Trip published")

	if created.Status == domain.StatusPublished {
		changed := domain.TripStatusChangedEvent{
			TripID:     created.ID,
			OldStatus:  domain.StatusDraft,
			NewStatus:  created.Status,
			OccurredAt: created.CreatedAt,
		}
		if err := uc.publisher.Publish(ctx, changed); err != nil {
			log.Error("publish_trip_status_changed", err)
		}
	}

	return created, nil
}
