package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridepool/internal/offer-service/domain"
	"ridepool/pkg/logger"
)

type recordedResponse struct {
	tripID   string
	driverID string
	action   domain.ResponseAction
}

// memRecorder captures audit writes so tests can assert on outcome
// records without a database.
type memRecorder struct {
	mu        sync.Mutex
	shown     []recordedResponse
	responses []recordedResponse
}

func (m *memRecorder) RecordShown(_ context.Context, tripID, driverID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shown = append(m.shown, recordedResponse{tripID: tripID, driverID: driverID})
	return nil
}

func (m *memRecorder) RecordResponse(_ context.Context, tripID, driverID string, action domain.ResponseAction, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, recordedResponse{tripID: tripID, driverID: driverID, action: action})
	return nil
}

func (m *memRecorder) responsesFor(tripID string) []recordedResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedResponse
	for _, r := range m.responses {
		if r.tripID == tripID {
			out = append(out, r)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *memRecorder) {
	recorder := &memRecorder{}
	return New(recorder, logger.NewLogger("registry-test")), recorder
}

func offerOK(reg *Registry, tripID, driverID string, window time.Duration) bool {
	_, ok := reg.Offer(tripID, driverID, window)
	return ok
}

func TestOfferExclusivity(t *testing.T) {
	reg, _ := newTestRegistry()
	defer reg.Close()

	assert.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))
	assert.False(t, offerOK(reg, "trip-1", "driver-b", time.Minute), "a live claim must block new offers")
	assert.True(t, offerOK(reg, "trip-2", "driver-b", time.Minute), "claims on other trips are independent")
}

func TestAcceptOnlyByClaimHolder(t *testing.T) {
	reg, _ := newTestRegistry()
	defer reg.Close()

	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))

	assert.False(t, reg.Accept("trip-1", "driver-b"), "a driver who was never offered the trip must not win")
	assert.True(t, reg.HasClaim("trip-1"), "a failed accept must not consume the claim")
	assert.True(t, reg.Accept("trip-1", "driver-a"))
	assert.False(t, reg.Accept("trip-1", "driver-a"), "a claim can only be accepted once")
}

// Many goroutines race to accept the same claim; exactly one wins.
func TestConcurrentAcceptSingleWinner(t *testing.T) {
	reg, _ := newTestRegistry()
	defer reg.Close()

	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))

	const racers = 50
	var wg sync.WaitGroup
	results := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.Accept("trip-1", "driver-a")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, won := range results {
		if won {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one accept must win")
}

// Accept and decline race for the same claim; exactly one resolves it.
func TestAcceptDeclineRace(t *testing.T) {
	reg, recorder := newTestRegistry()
	defer reg.Close()

	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))

	var wg sync.WaitGroup
	var accepted, declined bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		accepted = reg.Accept("trip-1", "driver-a")
	}()
	go func() {
		defer wg.Done()
		declined = reg.Decline("trip-1", "driver-a")
	}()
	wg.Wait()

	assert.NotEqual(t, accepted, declined, "exactly one resolution must win")

	responses := recorder.responsesFor("trip-1")
	if declined {
		require.Len(t, responses, 1)
		assert.Equal(t, domain.ActionDeclined, responses[0].action)
	} else {
		// Accepts are recorded by the acceptance flow, not the registry.
		assert.Empty(t, responses)
	}
}

func TestDeclineFreesTheTrip(t *testing.T) {
	reg, recorder := newTestRegistry()
	defer reg.Close()

	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))
	require.True(t, reg.Decline("trip-1", "driver-a"))

	assert.True(t, offerOK(reg, "trip-1", "driver-b", time.Minute), "a declined trip must be offerable again")

	responses := recorder.responsesFor("trip-1")
	require.Len(t, responses, 1)
	assert.Equal(t, domain.ActionDeclined, responses[0].action)
	assert.Equal(t, "driver-a", responses[0].driverID)
}

func TestTimeoutRecordsExactlyOnce(t *testing.T) {
	reg, recorder := newTestRegistry()
	defer reg.Close()

	require.True(t, offerOK(reg, "trip-1", "driver-a", 30*time.Millisecond))

	// Wait out the window plus slack for the timer goroutine.
	time.Sleep(120 * time.Millisecond)

	assert.False(t, reg.Accept("trip-1", "driver-a"), "accept after the window must fail")
	assert.False(t, reg.HasClaim("trip-1"))

	responses := recorder.responsesFor("trip-1")
	require.Len(t, responses, 1, "timeout must be recorded exactly once")
	assert.Equal(t, domain.ActionTimeout, responses[0].action)

	assert.True(t, offerOK(reg, "trip-1", "driver-b", time.Minute), "an expired trip must be offerable again")
}

// An expired claim whose timer has not fired yet is swept by the next
// offer: the sweep records the timeout and the stale timer does nothing.
func TestOfferSweepsExpiredClaim(t *testing.T) {
	reg, recorder := newTestRegistry()
	defer reg.Close()

	clock := time.Now()
	reg.now = func() time.Time { return clock }

	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Hour))

	// Advance past the window without letting the real timer fire.
	clock = clock.Add(2 * time.Hour)

	assert.False(t, reg.Accept("trip-1", "driver-a"), "accept after expiry must fail even before the timer fires")
	assert.True(t, offerOK(reg, "trip-1", "driver-b", time.Hour), "the expired claim must be swept")

	responses := recorder.responsesFor("trip-1")
	require.Len(t, responses, 1)
	assert.Equal(t, domain.ActionTimeout, responses[0].action)
	assert.Equal(t, "driver-a", responses[0].driverID)

	offer, ok := reg.ActiveOffer("driver-b")
	require.True(t, ok)
	assert.Equal(t, "trip-1", offer.TripID)
}

func TestOfferReturnsOwnSnapshotPerTrip(t *testing.T) {
	reg, _ := newTestRegistry()
	defer reg.Close()

	reg.now = func() time.Time { return time.Unix(1000, 0) }
	first, ok := reg.Offer("trip-1", "driver-a", time.Minute)
	require.True(t, ok)

	// Same driver claims a second trip with a different window. The
	// snapshot must describe the claim just installed, never the
	// driver's other outstanding claim.
	reg.now = func() time.Time { return time.Unix(2000, 0) }
	second, ok := reg.Offer("trip-2", "driver-a", 2*time.Minute)
	require.True(t, ok)

	assert.Equal(t, "trip-1", first.TripID)
	assert.Equal(t, time.Unix(1000, 0).Add(time.Minute), first.ExpiresAt)
	assert.Equal(t, "trip-2", second.TripID)
	assert.Equal(t, "driver-a", second.DriverID)
	assert.Equal(t, time.Unix(2000, 0), second.OfferedAt)
	assert.Equal(t, time.Unix(2000, 0).Add(2*time.Minute), second.ExpiresAt)

	assert.True(t, reg.HasClaim("trip-1"))
	assert.True(t, reg.HasClaim("trip-2"))
}

func TestActiveOffer(t *testing.T) {
	reg, _ := newTestRegistry()
	defer reg.Close()

	_, ok := reg.ActiveOffer("driver-a")
	assert.False(t, ok)

	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))

	offer, ok := reg.ActiveOffer("driver-a")
	require.True(t, ok)
	assert.Equal(t, "trip-1", offer.TripID)
	assert.Equal(t, "driver-a", offer.DriverID)
	assert.Greater(t, offer.Remaining(time.Now()), time.Duration(0))

	require.True(t, reg.Accept("trip-1", "driver-a"))
	_, ok = reg.ActiveOffer("driver-a")
	assert.False(t, ok, "resolved offers must not be reported as active")
}

func TestConcurrentOffersDistinctTrips(t *testing.T) {
	reg, _ := newTestRegistry()
	defer reg.Close()

	const trips = 30
	var wg sync.WaitGroup
	results := make([]bool, trips)
	for i := 0; i < trips; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = offerOK(reg, fmt.Sprintf("trip-%d", i), fmt.Sprintf("driver-%d", i), time.Minute)
		}(i)
	}
	wg.Wait()

	for i, won := range results {
		assert.True(t, won, "offer on distinct trip %d must succeed", i)
	}
}

func TestCloseRejectsNewOffers(t *testing.T) {
	reg, _ := newTestRegistry()
	require.True(t, offerOK(reg, "trip-1", "driver-a", time.Minute))
	reg.Close()
	assert.False(t, offerOK(reg, "trip-2", "driver-b", time.Minute))
	assert.False(t, reg.HasClaim("trip-1"))
}
