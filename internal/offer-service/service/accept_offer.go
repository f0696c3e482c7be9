package service

import (
	"context"
	"time"

	"ridepool/internal/offer-service/domain"
	"ridepool/internal/offer-service/registry"
	tripdomain "ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
	"ridepool/pkg/websocket"
)

type AcceptOfferCommand struct {
	TripID   string
	DriverID string
}

// AcceptOfferUseCase turns a won in-memory claim into a durable driver
// assignment. Winning the registry race is necessary but not
// sufficient: the assignment transaction re-validates the trip row and
// can still reject the driver.
type AcceptOfferUseCase struct {
	registry   *registry.Registry
	assignment domain.AssignmentStore
	recorder   domain.VisibilityRecorder
	presence   domain.PresenceStore
	publisher  domain.EventPublisher
	tripEvents tripdomain.EventPublisher
	passengers *websocket.Manager
	log        logger.Logger
}

func NewAcceptOfferUseCase(
	reg *registry.Registry,
	assignment domain.AssignmentStore,
	recorder domain.VisibilityRecorder,
	presence domain.PresenceStore,
	publisher domain.EventPublisher,
	tripEvents tripdomain.EventPublisher,
	passengers *websocket.Manager,
	log logger.Logger,
) *AcceptOfferUseCase {
	return &AcceptOfferUseCase{
		registry:   reg,
		assignment: assignment,
		recorder:   recorder,
		presence:   presence,
		publisher:  publisher,
		tripEvents: tripEvents,
		passengers: passengers,
		log:        log,
	}
}

func (uc *AcceptOfferUseCase) Execute(ctx context.Context, cmd AcceptOfferCommand) (*tripdomain.Trip, error) {
	log := uc.log.WithFields(logger.LogFields{
		"trip_id":   cmd.TripID,
		"driver_id": cmd.DriverID,
	})

	// 1. Win the in-memory race. Wrong driver, expired window and
	// missing claim all look the same to the caller.
	if !uc.registry.Accept(cmd.TripID, cmd.DriverID) {
		return nil, domain.ErrOfferExpiredOrNotYours
	}

	// 2. Durably assign. The claim is consumed either way: if the
	// transaction rejects the driver the trip must become offerable
	// again, not stay claimed by a driver who cannot take it.
	// The audit row keeps its NULL response in that case: the driver
	// answered, but the answer never became an assignment.
	trip, err := uc.assignment.AssignDriver(ctx, cmd.TripID, cmd.DriverID)
	if err != nil {
		log.Error("assign_driver", err)
		return nil, err
	}

	log.Info("offer_accepted", "Driver assigned to trip")

	// 3. Post-commit bookkeeping, all best effort.
	if err := uc.recorder.RecordResponse(ctx, cmd.TripID, cmd.DriverID, domain.ActionAccepted, time.Now()); err != nil {
		log.Error("record_offer_accepted", err)
	}
	if err := uc.presence.SetUnavailable(ctx, cmd.DriverID); err != nil {
		log.Error("presence_set_unavailable", err)
	}
	if err := uc.publisher.Publish(ctx, domain.OfferOutcomeEvent{
		TripID:     cmd.TripID,
		DriverID:   cmd.DriverID,
		Outcome:    "accepted",
		OccurredAt: time.Now(),
	}); err != nil {
		log.Error("publish_offer_accepted", err)
	}
	if err := uc.tripEvents.Publish(ctx, tripdomain.TripAssignedEvent{
		TripID:     trip.ID,
		DriverID:   cmd.DriverID,
		OwnerID:    trip.OwnerID,
		OccurredAt: time.Now(),
	}); err != nil {
		log.Error("publish_trip_assigned", err)
	}
	if err := uc.passengers.SendToUser(trip.OwnerID, map[string]any{
		"type":      "trip_assigned",
		"trip_id":   trip.ID,
		"driver_id": cmd.DriverID,
	}); err != nil {
		log.Error("ws_assigned_push", err)
	}

	return trip, nil
}
