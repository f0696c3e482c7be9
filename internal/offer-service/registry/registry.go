package registry

import (
	"context"
	"sync"
	"time"

	"ridepool/internal/offer-service/domain"
	"ridepool/pkg/logger"
)

const recordTimeout = 5 * time.Second

// claim is the registry's private entry for one outstanding offer. The
// expiry callback captures the *claim pointer and compares it against
// the map entry when it fires, so a stale timer for an already-resolved
// offer can never evict a newer claim on the same trip.
type claim struct {
	driverID  string
	offeredAt time.Time
	expiresAt time.Time
	timer     *time.Timer
}

// Registry arbitrates which driver holds the exclusive claim on a trip
// offer. All state is process-local and intentionally lost on restart:
// an offer that dies with the process simply times out on the driver's
// screen and the trip can be re-offered.
//
// Every operation takes the registry mutex, so per-trip winner
// selection is linearizable: of N concurrent accepts exactly one
// returns true.
type Registry struct {
	mu       sync.Mutex
	claims   map[string]*claim
	recorder domain.VisibilityRecorder
	log      logger.Logger
	now      func() time.Time
	closed   bool
}

func New(recorder domain.VisibilityRecorder, log logger.Logger) *Registry {
	return &Registry{
		claims:   make(map[string]*claim),
		recorder: recorder,
		log:      log,
		now:      time.Now,
	}
}

// Offer tries to install driverID as the exclusive claimant of tripID
// for the given window. On success it returns a snapshot of the claim
// it installed; callers must use that snapshot rather than looking the
// claim up again, since a driver may hold claims on several trips.
// Expired-but-unswept claims encountered here are resolved as timeouts
// before the new claim is considered.
func (r *Registry) Offer(tripID, driverID string, window time.Duration) (domain.Offer, bool) {
	now := r.now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.Offer{}, false
	}

	var swept *claim
	if existing, ok := r.claims[tripID]; ok {
		if now.Before(existing.expiresAt) {
			r.mu.Unlock()
			return domain.Offer{}, false
		}
		// The timer has not fired yet but the window is over. Resolve it
		// here; the late-firing timer will see a different pointer and
		// do nothing.
		existing.timer.Stop()
		delete(r.claims, tripID)
		swept = existing
	}

	c := &claim{
		driverID:  driverID,
		offeredAt: now,
		expiresAt: now.Add(window),
	}
	c.timer = time.AfterFunc(window, func() { r.expire(tripID, c) })
	r.claims[tripID] = c
	r.mu.Unlock()

	if swept != nil {
		r.recordResponse(tripID, swept.driverID, domain.ActionTimeout)
	}
	return domain.Offer{
		TripID:    tripID,
		DriverID:  driverID,
		OfferedAt: c.offeredAt,
		ExpiresAt: c.expiresAt,
	}, true
}

// Accept resolves the claim in driverID's favor. It returns false when
// no claim exists, the claim belongs to another driver, or the window
// has already closed. A successful accept only wins the in-memory race;
// durable assignment happens afterwards in the acceptance transaction.
func (r *Registry) Accept(tripID, driverID string) bool {
	return r.resolve(tripID, driverID, domain.ActionAccepted)
}

// Decline resolves the claim by the driver's explicit rejection, making
// the trip immediately offerable again.
func (r *Registry) Decline(tripID, driverID string) bool {
	return r.resolve(tripID, driverID, domain.ActionDeclined)
}

func (r *Registry) resolve(tripID, driverID string, action domain.ResponseAction) bool {
	now := r.now()

	r.mu.Lock()
	c, ok := r.claims[tripID]
	if !ok || c.driverID != driverID || !now.Before(c.expiresAt) {
		r.mu.Unlock()
		return false
	}
	c.timer.Stop()
	delete(r.claims, tripID)
	r.mu.Unlock()

	if action == domain.ActionDeclined {
		r.recordResponse(tripID, driverID, action)
	}
	// Accepts are recorded by the acceptance flow after the durable
	// assignment commits, so a failed assignment never shows up as an
	// accepted offer.
	return true
}

// ActiveOffer returns the live offer currently held by driverID, if any.
func (r *Registry) ActiveOffer(driverID string) (domain.Offer, bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for tripID, c := range r.claims {
		if c.driverID == driverID && now.Before(c.expiresAt) {
			return domain.Offer{
				TripID:    tripID,
				DriverID:  c.driverID,
				OfferedAt: c.offeredAt,
				ExpiresAt: c.expiresAt,
			}, true
		}
	}
	return domain.Offer{}, false
}

// HasClaim reports whether tripID has a live claim.
func (r *Registry) HasClaim(tripID string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[tripID]
	return ok && now.Before(c.expiresAt)
}

// expire runs on the timer goroutine when a claim's window closes. If
// the claim was already resolved or replaced it does nothing.
func (r *Registry) expire(tripID string, c *claim) {
	r.mu.Lock()
	current, ok := r.claims[tripID]
	if !ok || current != c {
		r.mu.Unlock()
		return
	}
	delete(r.claims, tripID)
	r.mu.Unlock()

	r.log.WithFields(logger.LogFields{
		"trip_id":   tripID,
		"driver_id": c.driverID,
	}).Info("offer_expired", "Offer window closed without a response")

	r.recordResponse(tripID, c.driverID, domain.ActionTimeout)
}

func (r *Registry) recordResponse(tripID, driverID string, action domain.ResponseAction) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.recorder.RecordResponse(ctx, tripID, driverID, action, r.now()); err != nil {
		r.log.WithFields(logger.LogFields{
			"trip_id":   tripID,
			"driver_id": driverID,
		}).Error("record_offer_response", err)
	}
}

// Close stops all pending expiry timers and rejects further offers.
// Outstanding claims are dropped without audit records; the process is
// going away and the recorder may already be unreachable.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for tripID, c := range r.claims {
		c.timer.Stop()
		delete(r.claims, tripID)
	}
}
