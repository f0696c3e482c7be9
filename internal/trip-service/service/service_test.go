package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

// memoryLedger implements domain.Ledger with a mutex standing in for the
// row lock and a version counter mirroring the guarded update. It lets
// the use-case tests exercise real interleavings without a database.
type memoryLedger struct {
	mu        sync.Mutex
	trips     map[string]*domain.Trip
	bookings  map[string]*domain.Booking
	conflicts int // fail this many calls with ErrConcurrentModification first
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		trips:    make(map[string]*domain.Trip),
		bookings: make(map[string]*domain.Booking),
	}
}

func (m *memoryLedger) addTrip(totalSeats int, status domain.TripStatus) *domain.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip := &domain.Trip{
		ID:             uuid.NewString(),
		OwnerID:        uuid.NewString(),
		Status:         status,
		TotalSeats:     totalSeats,
		AvailableSeats: totalSeats,
		Origin:         "Campus",
		Destination:    "Airport",
		DepartsAt:      time.Now().Add(2 * time.Hour),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.trips[trip.ID] = trip
	return copyTrip(trip)
}

func copyTrip(t *domain.Trip) *domain.Trip {
	c := *t
	return &c
}

func copyBooking(b *domain.Booking) *domain.Booking {
	c := *b
	return &c
}

func (m *memoryLedger) CreateTrip(_ context.Context, trip *domain.Trip) (*domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := copyTrip(trip)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.trips[stored.ID] = stored
	return copyTrip(stored), nil
}

func (m *memoryLedger) BookSeats(_ context.Context, params domain.BookSeatsParams) (*domain.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflicts > 0 {
		m.conflicts--
		return nil, domain.ErrConcurrentModification
	}

	trip, ok := m.trips[params.TripID]
	if !ok {
		return nil, domain.ErrTripNotFound
	}
	if !trip.Status.IsBookable() {
		return nil, domain.ErrTripNotBookable
	}
	if trip.AvailableSeats < params.Seats {
		return nil, domain.ErrInsufficientCapacity
	}

	status := domain.BookingConfirmed
	if params.Pending {
		status = domain.BookingPending
	}
	booking := &domain.Booking{
		ID:          uuid.NewString(),
		TripID:      params.TripID,
		UserID:      params.UserID,
		SeatsBooked: params.Seats,
		Status:      status,
		Note:        params.Note,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.bookings[booking.ID] = booking

	oldStatus := trip.Status
	trip.AvailableSeats -= params.Seats
	trip.Status = domain.DeriveStatus(trip.Status, trip.AvailableSeats, trip.TotalSeats)
	trip.Version++
	trip.UpdatedAt = time.Now()

	return &domain.LedgerResult{
		Trip:      copyTrip(trip),
		Booking:   copyBooking(booking),
		OldStatus: oldStatus,
	}, nil
}

func (m *memoryLedger) CancelBooking(_ context.Context, bookingID, userID string) (*domain.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflicts > 0 {
		m.conflicts--
		return nil, domain.ErrConcurrentModification
	}

	booking, ok := m.bookings[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	if userID != "" && booking.UserID != userID {
		return nil, domain.ErrBookingNotFound
	}
	if !booking.Status.CanCancel() {
		return nil, domain.ErrBookingNotCancellable
	}
	trip, ok := m.trips[booking.TripID]
	if !ok {
		return nil, domain.ErrTripNotFound
	}

	booking.Status = domain.BookingCancelled
	booking.UpdatedAt = time.Now()

	oldStatus := trip.Status
	trip.AvailableSeats += booking.SeatsBooked
	trip.Status = domain.DeriveStatus(trip.Status, trip.AvailableSeats, trip.TotalSeats)
	trip.Version++
	trip.UpdatedAt = time.Now()

	return &domain.LedgerResult{
		Trip:      copyTrip(trip),
		Booking:   copyBooking(booking),
		OldStatus: oldStatus,
	}, nil
}

func (m *memoryLedger) FinishTrip(_ context.Context, tripID string, to domain.TripStatus) (*domain.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trip, ok := m.trips[tripID]
	if !ok {
		return nil, domain.ErrTripNotFound
	}
	if trip.Status.IsTerminal() {
		return nil, domain.ErrTripNotTransitionable
	}

	oldStatus := trip.Status
	trip.Status = to
	trip.Version++
	trip.UpdatedAt = time.Now()

	bookingTarget := domain.BookingCompleted
	if to == domain.StatusCancelled {
		bookingTarget = domain.BookingCancelled
	}
	for _, b := range m.bookings {
		if b.TripID == tripID && b.Status.IsActive() {
			b.Status = bookingTarget
			b.UpdatedAt = time.Now()
		}
	}

	return &domain.LedgerResult{Trip: copyTrip(trip), OldStatus: oldStatus}, nil
}

func (m *memoryLedger) BulkTransitionBookings(_ context.Context, tripID string, from []domain.BookingStatus, to domain.BookingStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, b := range m.bookings {
		if b.TripID != tripID {
			continue
		}
		for _, f := range from {
			if b.Status == f {
				b.Status = to
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *memoryLedger) GetTrip(_ context.Context, tripID string) (*domain.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[tripID]
	if !ok {
		return nil, domain.ErrTripNotFound
	}
	return copyTrip(trip), nil
}

func (m *memoryLedger) GetBooking(_ context.Context, bookingID string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booking, ok := m.bookings[bookingID]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return copyBooking(booking), nil
}

func (m *memoryLedger) ListBookingsByTrip(_ context.Context, tripID string) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Booking
	for _, b := range m.bookings {
		if b.TripID == tripID {
			out = append(out, copyBooking(b))
		}
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(eventType string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestDeps() (*memoryLedger, *capturePublisher, logger.Logger) {
	return newMemoryLedger(), &capturePublisher{}, logger.NewLogger("test")
}

func TestBookSeatsValidation(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(4, domain.StatusPublished)
	uc := NewBookSeatsUseCase(ledger, publisher, log)

	_, err := uc.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidSeatCount)

	_, err = uc.Execute(context.Background(), BookSeatsCommand{TripID: "", UserID: "u1", Seats: 1})
	assert.ErrorIs(t, err, domain.ErrTripNotFound)

	_, err = uc.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 5})
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
}

func TestBookSeatsNotBookableStatuses(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	uc := NewBookSeatsUseCase(ledger, publisher, log)

	for _, status := range []domain.TripStatus{domain.StatusDraft, domain.StatusCancelled, domain.StatusCompleted} {
		trip := ledger.addTrip(4, status)
		_, err := uc.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 1})
		assert.ErrorIs(t, err, domain.ErrTripNotBookable, "status %s", status)
	}
}

// Two passengers race for the last remaining seat. Exactly one wins and
// the trip ends up FULL with zero seats.
func TestBookSeatsConcurrentLastSeat(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(1, domain.StatusPublished)
	uc := NewBookSeatsUseCase(ledger, publisher, log)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = uc.Execute(context.Background(), BookSeatsCommand{
				TripID: trip.ID,
				UserID: uuid.NewString(),
				Seats:  1,
			})
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInsufficientCapacity) || errors.Is(err, domain.ErrTripNotBookable):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one booking must win the last seat")
	assert.Equal(t, 1, losses)

	after, err := ledger.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.AvailableSeats)
	assert.Equal(t, domain.StatusFull, after.Status)
}

// Two passengers each want 3 of 5 seats; only one request can fit.
func TestBookSeatsOverlappingRequests(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(5, domain.StatusPublished)
	uc := NewBookSeatsUseCase(ledger, publisher, log)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = uc.Execute(context.Background(), BookSeatsCommand{
				TripID: trip.ID,
				UserID: uuid.NewString(),
				Seats:  3,
			})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
		}
	}
	assert.Equal(t, 1, wins)

	after, err := ledger.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.AvailableSeats)
	assert.Equal(t, domain.StatusPublished, after.Status)
}

func TestBookSeatsRetriesVersionConflictOnce(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(4, domain.StatusPublished)
	ledger.conflicts = 1
	uc := NewBookSeatsUseCase(ledger, publisher, log)

	result, err := uc.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 2})
	require.NoError(t, err, "a single version conflict must be retried transparently")
	assert.Equal(t, 2, result.Trip.AvailableSeats)

	ledger.conflicts = 2
	_, err = uc.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u2", Seats: 1})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification, "a second conflict surfaces to the caller")
}

// Booking the last seats flips the trip to FULL and publishes a status
// change, cancelling flips it back to PUBLISHED.
func TestFullTransitionAndReopen(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(2, domain.StatusPublished)
	book := NewBookSeatsUseCase(ledger, publisher, log)
	cancel := NewCancelBookingUseCase(ledger, publisher, log)

	result, err := book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFull, result.Trip.Status)

	changes := publisher.byType("trip.status_changed")
	require.Len(t, changes, 1)
	change := changes[0].(domain.TripStatusChangedEvent)
	assert.Equal(t, domain.StatusPublished, change.OldStatus)
	assert.Equal(t, domain.StatusFull, change.NewStatus)

	// A booking against the full trip is rejected outright.
	_, err = book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u2", Seats: 1})
	assert.ErrorIs(t, err, domain.ErrTripNotBookable)

	reopened, err := cancel.Execute(context.Background(), CancelBookingCommand{BookingID: result.Booking.ID, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, reopened.Trip.Status)
	assert.Equal(t, 2, reopened.Trip.AvailableSeats)
}

// Two concurrent cancels of the same booking: one succeeds, one is
// rejected, and the seats are released exactly once.
func TestCancelBookingReleasesSeatsOnce(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(4, domain.StatusPublished)
	book := NewBookSeatsUseCase(ledger, publisher, log)
	cancel := NewCancelBookingUseCase(ledger, publisher, log)

	result, err := book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = cancel.Execute(context.Background(), CancelBookingCommand{
				BookingID: result.Booking.ID,
				UserID:    "u1",
			})
		}(i)
	}
	wg.Wait()

	var wins, rejections int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrBookingNotCancellable):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, rejections)

	after, err := ledger.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.AvailableSeats, "seats must be released exactly once")
}

func TestCancelBookingWrongUser(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(4, domain.StatusPublished)
	book := NewBookSeatsUseCase(ledger, publisher, log)
	cancel := NewCancelBookingUseCase(ledger, publisher, log)

	result, err := book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 1})
	require.NoError(t, err)

	_, err = cancel.Execute(context.Background(), CancelBookingCommand{BookingID: result.Booking.ID, UserID: "intruder"})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

// Hammer one trip with concurrent bookings and cancellations, then
// check the conservation invariant: available seats plus seats held by
// active bookings always equals total seats.
func TestCapacityConservationUnderLoad(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(5, domain.StatusPublished)
	book := NewBookSeatsUseCase(ledger, publisher, log)
	cancel := NewCancelBookingUseCase(ledger, publisher, log)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := uuid.NewString()
			result, err := book.Execute(context.Background(), BookSeatsCommand{
				TripID: trip.ID,
				UserID: userID,
				Seats:  1 + i%2,
			})
			if err != nil {
				return
			}
			if i%3 == 0 {
				_, _ = cancel.Execute(context.Background(), CancelBookingCommand{
					BookingID: result.Booking.ID,
					UserID:    userID,
				})
			}
		}(i)
	}
	wg.Wait()

	after, err := ledger.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)

	bookings, err := ledger.ListBookingsByTrip(context.Background(), trip.ID)
	require.NoError(t, err)

	held := 0
	for _, b := range bookings {
		if b.Status.IsActive() {
			held += b.SeatsBooked
		}
	}
	assert.Equal(t, after.TotalSeats, after.AvailableSeats+held,
		"capacity invariant violated: total=%d available=%d held=%d",
		after.TotalSeats, after.AvailableSeats, held)
	assert.GreaterOrEqual(t, after.AvailableSeats, 0, "available seats must never go negative")
}

func TestFinishTripCancelsActiveBookings(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(4, domain.StatusPublished)
	book := NewBookSeatsUseCase(ledger, publisher, log)
	finish := NewFinishTripUseCase(ledger, publisher, log)

	first, err := book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 1})
	require.NoError(t, err)
	_, err = book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u2", Seats: 2})
	require.NoError(t, err)

	_, err = finish.Execute(context.Background(), FinishTripCommand{TripID: trip.ID, ToStatus: domain.StatusCancelled, ForceAdmin: true})
	require.NoError(t, err)

	after, err := ledger.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, after.Status)

	b, err := ledger.GetBooking(context.Background(), first.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, b.Status)

	// Terminal statuses are final.
	_, err = finish.Execute(context.Background(), FinishTripCommand{TripID: trip.ID, ToStatus: domain.StatusCompleted, ForceAdmin: true})
	assert.ErrorIs(t, err, domain.ErrTripNotTransitionable)
}

func TestBulkTransitionBookings(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	trip := ledger.addTrip(5, domain.StatusPublished)
	book := NewBookSeatsUseCase(ledger, publisher, log)

	first, err := book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u1", Seats: 1, Pending: true})
	require.NoError(t, err)
	require.Equal(t, domain.BookingPending, first.Booking.Status)
	_, err = book.Execute(context.Background(), BookSeatsCommand{TripID: trip.ID, UserID: "u2", Seats: 2})
	require.NoError(t, err)

	// Confirm every pending booking in one statement.
	count, err := ledger.BulkTransitionBookings(context.Background(), trip.ID,
		[]domain.BookingStatus{domain.BookingPending}, domain.BookingConfirmed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	b, err := ledger.GetBooking(context.Background(), first.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
}

func TestCreateTripValidation(t *testing.T) {
	ledger, publisher, log := newTestDeps()
	uc := NewCreateTripUseCase(ledger, publisher, log)

	_, err := uc.Execute(context.Background(), CreateTripCommand{
		OwnerID:     "owner",
		TotalSeats:  0,
		Origin:      "A",
		Destination: "B",
		DepartsAt:   time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidTotalSeats)

	_, err = uc.Execute(context.Background(), CreateTripCommand{
		OwnerID:     "owner",
		TotalSeats:  3,
		Origin:      "A",
		Destination: "B",
		DepartsAt:   time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, ErrDepartureInPast)

	trip, err := uc.Execute(context.Background(), CreateTripCommand{
		OwnerID:     "owner",
		TotalSeats:  3,
		Origin:      "A",
		Destination: "B",
		DepartsAt:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, trip.Status)
	assert.Equal(t, 3, trip.AvailableSeats)
	assert.Equal(t, int64(0), trip.Version)
}
