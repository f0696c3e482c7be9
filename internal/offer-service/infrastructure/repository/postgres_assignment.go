package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridepool/internal/offer-service/domain"
	tripdomain "ridepool/internal/trip-service/domain"
	"ridepool/pkg/logger"
)

// PostgresAssignment implements the acceptance transaction. The
// in-memory claim and the trip row live in different consistency
// domains, so everything the offer pre-checked is checked again here,
// under the row lock, against current state.
type PostgresAssignment struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewPostgresAssignment(db *pgxpool.Pool, log logger.Logger) *PostgresAssignment {
	return &PostgresAssignment{db: db, log: log}
}

func (r *PostgresAssignment) AssignDriver(ctx context.Context, tripID, driverID string) (*tripdomain.Trip, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var t tripdomain.Trip
	err = tx.QueryRow(ctx, `
		SELECT id, owner_id, driver_id, status, total_seats, available_seats, version,
		       origin, destination, departs_at, created_at, updated_at
		FROM trips WHERE id = $1 FOR UPDATE`, tripID).
		Scan(&t.ID, &t.OwnerID, &t.DriverID, &t.Status, &t.TotalSeats, &t.AvailableSeats,
			&t.Version, &t.Origin, &t.Destination, &t.DepartsAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTripNotAvailable
		}
		return nil, fmt.Errorf("failed to lock trip: %w", err)
	}

	if t.DriverID != nil {
		return nil, domain.ErrAlreadyAssigned
	}
	if t.AvailableSeats == 0 || t.Status == tripdomain.StatusFull {
		return nil, domain.ErrNoCapacity
	}
	if t.Status != tripdomain.StatusPublished && t.Status != tripdomain.StatusOffered {
		return nil, domain.ErrTripNotAvailable
	}
	if !t.DepartsAt.After(time.Now()) {
		return nil, domain.ErrTripInPast
	}

	// The driver row must exist before the trip references it. Upsert:
	// drivers may exist only in the token issuer until their first
	// assignment.
	_, err = tx.Exec(ctx, `
		INSERT INTO drivers (id, status) VALUES ($1, 'BUSY')
		ON CONFLICT (id) DO UPDATE SET status = 'BUSY', updated_at = NOW()`,
		driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark driver busy: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET driver_id = $1, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		driverID, tripdomain.StatusInProgress, tripID, t.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to assign driver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, tripdomain.ErrConcurrentModification
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	t.DriverID = &driverID
	t.Status = tripdomain.StatusInProgress
	t.Version++
	t.UpdatedAt = time.Now().UTC()

	r.log.WithFields(logger.LogFields{
		"trip_id":   tripID,
		"driver_id": driverID,
	}).Info("driver_assigned", "Driver durably assigned to trip")

	return &t, nil
}
