package service

import (
	"context"
	"time"

	"ridepool/internal/offer-service/domain"
	"ridepool/internal/offer-service/registry"
	"ridepool/pkg/logger"
)

type DeclineOfferCommand struct {
	TripID   string
	DriverID string
}

// DeclineOfferUseCase resolves an offer by the driver's explicit
// rejection. The registry records the outcome; this layer publishes it
// and keeps the driver in the candidate pool.
type DeclineOfferUseCase struct {
	registry  *registry.Registry
	publisher domain.EventPublisher
	log       logger.Logger
}

func NewDeclineOfferUseCase(reg *registry.Registry, publisher domain.EventPublisher, log logger.Logger) *DeclineOfferUseCase {
	return &DeclineOfferUseCase{registry: reg, publisher: publisher, log: log}
}

func (uc *DeclineOfferUseCase) Execute(ctx context.Context, cmd DeclineOfferCommand) error {
	log := uc.log.WithFields(logger.LogFields{
		"trip_id":   cmd.TripID,
		"driver_id": cmd.DriverID,
	})

	if !uc.registry.Decline(cmd.TripID, cmd.DriverID) {
		return domain.ErrOfferExpiredOrNotYours
	}

	log.Info("offer_declined", "Driver declined the trip")

	if err := uc.publisher.Publish(ctx, domain.OfferOutcomeEvent{
		TripID:     cmd.TripID,
		DriverID:   cmd.DriverID,
		Outcome:    "declined",
		OccurredAt: time.Now(),
	}); err != nil {
		log.Error("publish_offer_declined", err)
	}
	return nil
}
