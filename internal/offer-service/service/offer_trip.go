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

type OfferTripCommand struct {
	TripID   string
	DriverID string
	Window   time.Duration
}

type DispatchCommand struct {
	TripID  string
	Exclude []string
	Window  time.Duration
}

// OfferTripUseCase shows a trip to exactly one driver at a time. The
// registry guarantees exclusivity; this layer pre-checks durable state,
// records visibility and pushes the offer to the driver's websocket.
type OfferTripUseCase struct {
	registry  *registry.Registry
	recorder  domain.VisibilityRecorder
	presence  domain.PresenceStore
	trips     tripdomain.Ledger
	publisher domain.EventPublisher
	drivers   *websocket.Manager
	window    time.Duration
	log       logger.Logger
}

func NewOfferTripUseCase(
	reg *registry.Registry,
	recorder domain.VisibilityRecorder,
	presence domain.PresenceStore,
	trips tripdomain.Ledger,
	publisher domain.EventPublisher,
	drivers *websocket.Manager,
	window time.Duration,
	log logger.Logger,
) *OfferTripUseCase {
	return &OfferTripUseCase{
		registry:  reg,
		recorder:  recorder,
		presence:  presence,
		trips:     trips,
		publisher: publisher,
		drivers:   drivers,
		window:    window,
		log:       log,
	}
}

func (uc *OfferTripUseCase) Execute(ctx context.Context, cmd OfferTripCommand) (domain.Offer, error) {
	log := uc.log.WithFields(logger.LogFields{
		"trip_id":   cmd.TripID,
		"driver_id": cmd.DriverID,
	})

	window := cmd.Window
	if window <= 0 {
		window = uc.window
	}

	// 1. Pre-check durable state. This is best effort only, the
	// acceptance transaction re-validates everything; it just avoids
	// showing drivers trips that obviously cannot be accepted.
	trip, err := uc.trips.GetTrip(ctx, cmd.TripID)
	if err != nil {
		return domain.Offer{}, err
	}
	if trip.HasDriver() {
		return domain.Offer{}, domain.ErrAlreadyAssigned
	}
	if trip.Status != tripdomain.StatusPublished && trip.Status != tripdomain.StatusOffered {
		return domain.Offer{}, domain.ErrTripNotAvailable
	}
	if !trip.DepartsAt.After(time.Now()) {
		return domain.Offer{}, domain.ErrTripInPast
	}

	// 2. Claim the trip in the registry. This is the arbitration point:
	// from here until resolution no other driver sees this trip. The
	// returned snapshot is the claim just installed; a lookup by driver
	// could return a different trip's claim instead.
	offer, ok := uc.registry.Offer(cmd.TripID, cmd.DriverID, window)
	if !ok {
		return domain.Offer{}, domain.ErrOfferAlreadyOutstanding
	}

	log.Info("offer_shown", "Trip offered to driver")

	// 3. Record visibility and notify. Both are best effort: the claim
	// is already installed and will expire on its own if the driver
	// never sees it.
	if err := uc.recorder.RecordShown(ctx, cmd.TripID, cmd.DriverID, offer.OfferedAt); err != nil {
		log.Error("record_offer_shown", err)
	}

	if err := uc.drivers.SendToUser(cmd.DriverID, map[string]any{
		"type":        "trip_offer",
		"trip_id":     trip.ID,
		"origin":      trip.Origin,
		"destination": trip.Destination,
		"departs_at":  trip.DepartsAt,
		"seats":       trip.TotalSeats - trip.AvailableSeats,
		"expires_at":  offer.ExpiresAt,
	}); err != nil {
		log.Error("ws_offer_push", err)
	}

	if err := uc.publisher.Publish(ctx, domain.OfferOutcomeEvent{
		TripID:     cmd.TripID,
		DriverID:   cmd.DriverID,
		Outcome:    "shown",
		OccurredAt: offer.OfferedAt,
	}); err != nil {
		log.Error("publish_offer_shown", err)
	}

	return offer, nil
}

// Dispatch picks an available driver from the presence set and offers
// the trip to them. Drivers already holding an offer are skipped.
func (uc *OfferTripUseCase) Dispatch(ctx context.Context, cmd DispatchCommand) (domain.Offer, error) {
	exclude := append([]string(nil), cmd.Exclude...)

	// A few picks guard against candidates that are present in the set
	// but already busy with another offer.
	for i := 0; i < 5; i++ {
		driverID, err := uc.presence.PickCandidate(ctx, exclude)
		if err != nil {
			return domain.Offer{}, err
		}

		if _, busy := uc.registry.ActiveOffer(driverID); busy {
			exclude = append(exclude, driverID)
			continue
		}

		// Execute only fails on trip-level problems, which no other
		// candidate can fix either.
		return uc.Execute(ctx, OfferTripCommand{
			TripID:   cmd.TripID,
			DriverID: driverID,
			Window:   cmd.Window,
		})
	}
	return domain.Offer{}, domain.ErrNoCandidates
}
