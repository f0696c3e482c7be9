package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

// PostgresLedger implements domain.Ledger on PostgreSQL. Every mutation
// follows the same protocol: SELECT ... FOR UPDATE on the trip row,
// validate against the locked snapshot, then UPDATE guarded by the
// version counter read under the lock. A guarded update touching zero
// rows means another writer slipped in and the transaction aborts with
// ErrConcurrentModification.
type PostgresLedger struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewPostgresLedger(db *pgxpool.Pool, log logger.Logger) *PostgresLedger {
	return &PostgresLedger{db: db, log: log}
}

const tripColumns = `id, owner_id, driver_id, status, total_seats, available_seats, version, origin, destination, departs_at, created_at, updated_at`

func scanTrip(row pgx.Row) (*domain.Trip, error) {
	var t domain.Trip
	err := row.Scan(&t.ID, &t.OwnerID, &t.DriverID, &t.Status, &t.TotalSeats, &t.AvailableSeats,
		&t.Version, &t.Origin, &t.Destination, &t.DepartsAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTripNotFound
		}
		return nil, fmt.Errorf("failed to scan trip: %w", err)
	}
	return &t, nil
}

func lockTrip(ctx context.Context, tx pgx.Tx, tripID string) (*domain.Trip, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, tripID)
	return scanTrip(row)
}

func (r *PostgresLedger) CreateTrip(ctx context.Context, trip *domain.Trip) (*domain.Trip, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO trips (id, owner_id, status, total_seats, available_seats, origin, destination, departs_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+tripColumns,
		trip.ID, trip.OwnerID, trip.Status, trip.TotalSeats, trip.AvailableSeats,
		trip.Origin, trip.Destination, trip.DepartsAt)
	return scanTrip(row)
}

func (r *PostgresLedger) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, tripID)
	return scanTrip(row)
}

func (r *PostgresLedger) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	var b domain.Booking
	err := r.db.QueryRow(ctx, `
		SELECT id, trip_id, user_id, seats_booked, status, note, created_at, updated_at
		FROM bookings WHERE id = $1`, bookingID).
		Scan(&b.ID, &b.TripID, &b.UserID, &b.SeatsBooked, &b.Status, &b.Note, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

func (r *PostgresLedger) ListBookingsByTrip(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, trip_id, user_id, seats_booked, status, note, created_at, updated_at
		FROM bookings WHERE trip_id = $1 ORDER BY created_at`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.TripID, &b.UserID, &b.SeatsBooked, &b.Status, &b.Note,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, &b)
	}
	return bookings, rows.Err()
}

func (r *PostgresLedger) BookSeats(ctx context.Context, params domain.BookSeatsParams) (*domain.LedgerResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	trip, err := lockTrip(ctx, tx, params.TripID)
	if err != nil {
		return nil, err
	}

	if !trip.Status.IsBookable() {
		return nil, domain.ErrTripNotBookable
	}
	if trip.AvailableSeats < params.Seats {
		return nil, domain.ErrInsufficientCapacity
	}

	bookingStatus := domain.BookingConfirmed
	if params.Pending {
		bookingStatus = domain.BookingPending
	}

	booking := &domain.Booking{
		ID:          uuid.NewString(),
		TripID:      params.TripID,
		UserID:      params.UserID,
		SeatsBooked: params.Seats,
		Status:      bookingStatus,
		Note:        params.Note,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (id, trip_id, user_id, seats_booked, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		booking.ID, booking.TripID, booking.UserID, booking.SeatsBooked, booking.Status, booking.Note).
		Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert booking: %w", err)
	}

	oldStatus := trip.Status
	newAvailable := trip.AvailableSeats - params.Seats
	newStatus := domain.DeriveStatus(trip.Status, newAvailable, trip.TotalSeats)

	updated, err := r.updateTripGuarded(ctx, tx, trip, newAvailable, newStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit booking transaction: %w", err)
	}

	return &domain.LedgerResult{Trip: updated, Booking: booking, OldStatus: oldStatus}, nil
}

func (r *PostgresLedger) CancelBooking(ctx context.Context, bookingID, userID string) (*domain.LedgerResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Read the booking without a lock first to learn the trip, then lock
	// the trip row before re-reading the booking. Lock order is always
	// trip first so cancellations never deadlock against bookings.
	var tripID string
	err = tx.QueryRow(ctx, `SELECT trip_id FROM bookings WHERE id = $1`, bookingID).Scan(&tripID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to look up booking: %w", err)
	}

	trip, err := lockTrip(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}

	var b domain.Booking
	err = tx.QueryRow(ctx, `
		SELECT id, trip_id, user_id, seats_booked, status, note, created_at, updated_at
		FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).
		Scan(&b.ID, &b.TripID, &b.UserID, &b.SeatsBooked, &b.Status, &b.Note, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}

	if userID != "" && b.UserID != userID {
		return nil, domain.ErrBookingNotFound
	}
	if !b.Status.CanCancel() {
		return nil, domain.ErrBookingNotCancellable
	}

	_, err = tx.Exec(ctx, `
		UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2`,
		domain.BookingCancelled, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	b.Status = domain.BookingCancelled

	oldStatus := trip.Status
	newAvailable := trip.AvailableSeats + b.SeatsBooked
	newStatus := domain.DeriveStatus(trip.Status, newAvailable, trip.TotalSeats)

	updated, err := r.updateTripGuarded(ctx, tx, trip, newAvailable, newStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return &domain.LedgerResult{Trip: updated, Booking: &b, OldStatus: oldStatus}, nil
}

func (r *PostgresLedger) FinishTrip(ctx context.Context, tripID string, to domain.TripStatus) (*domain.LedgerResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	trip, err := lockTrip(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status.IsTerminal() {
		return nil, domain.ErrTripNotTransitionable
	}

	oldStatus := trip.Status
	updated, err := r.updateTripGuarded(ctx, tx, trip, trip.AvailableSeats, to)
	if err != nil {
		return nil, err
	}

	bookingTarget := domain.BookingCompleted
	if to == domain.StatusCancelled {
		bookingTarget = domain.BookingCancelled
	}
	_, err = tx.Exec(ctx, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE trip_id = $2 AND status = ANY($3)`,
		bookingTarget, tripID, []string{string(domain.BookingPending), string(domain.BookingConfirmed)})
	if err != nil {
		return nil, fmt.Errorf("failed to transition bookings: %w", err)
	}

	if trip.DriverID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE drivers SET status = 'AVAILABLE', updated_at = NOW() WHERE id = $1`,
			*trip.DriverID)
		if err != nil {
			return nil, fmt.Errorf("failed to free driver: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit trip transition: %w", err)
	}

	return &domain.LedgerResult{Trip: updated, OldStatus: oldStatus}, nil
}

func (r *PostgresLedger) BulkTransitionBookings(ctx context.Context, tripID string, from []domain.BookingStatus, to domain.BookingStatus) (int64, error) {
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE trip_id = $2 AND status = ANY($3)`,
		to, tripID, fromStrings)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk transition bookings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// updateTripGuarded writes the new seat count and status with the
// version read under the row lock as guard. With the lock held the
// guard should never miss; if it does, something bypassed the locking
// protocol and the transaction must not commit.
func (r *PostgresLedger) updateTripGuarded(ctx context.Context, tx pgx.Tx, trip *domain.Trip, newAvailable int, newStatus domain.TripStatus) (*domain.Trip, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET available_seats = $1, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		newAvailable, newStatus, trip.ID, trip.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.WithFields(logger.LogFields{"trip_id": trip.ID}).
			Error("trip_version_conflict", domain.ErrConcurrentModification)
		return nil, domain.ErrConcurrentModification
	}

	updated := *trip
	updated.AvailableSeats = newAvailable
	updated.Status = newStatus
	updated.Version = trip.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	return &updated, nil
}
