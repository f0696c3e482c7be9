package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridepool/internal/offer-service/domain"
)

// PostgresAudit persists offer visibility. One row per (trip, driver):
// re-offering the same trip to the same driver refreshes the row rather
// than growing history, which is all the analytics need.
type PostgresAudit struct {
	db *pgxpool.Pool
}

func NewPostgresAudit(db *pgxpool.Pool) *PostgresAudit {
	return &PostgresAudit{db: db}
}

func (r *PostgresAudit) RecordShown(ctx context.Context, tripID, driverID string, shownAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO trip_offer_audit (trip_id, driver_id, shown_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (trip_id, driver_id)
		DO UPDATE SET shown_at = EXCLUDED.shown_at, response_action = NULL, response_at = NULL`,
		tripID, driverID, shownAt)
	if err != nil {
		return fmt.Errorf("failed to record offer shown: %w", err)
	}
	return nil
}

func (r *PostgresAudit) RecordResponse(ctx context.Context, tripID, driverID string, action domain.ResponseAction, respondedAt time.Time) error {
	// The insert arm covers responses whose shown record was lost, for
	// example after a restart; shown_at then defaults to the response
	// time so the row is still self-consistent.
	_, err := r.db.Exec(ctx, `
		INSERT INTO trip_offer_audit (trip_id, driver_id, shown_at, response_action, response_at)
		VALUES ($1, $2, $4, $3, $4)
		ON CONFLICT (trip_id, driver_id)
		DO UPDATE SET response_action = EXCLUDED.response_action, response_at = EXCLUDED.response_at`,
		tripID, driverID, action, respondedAt)
	if err != nil {
		return fmt.Errorf("failed to record offer response: %w", err)
	}
	return nil
}
