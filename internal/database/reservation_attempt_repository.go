package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/models"
)

// ReservationAttemptRepository handles the reservation attempt audit log
type ReservationAttemptRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewReservationAttemptRepository creates a new reservation attempt repository
func NewReservationAttemptRepository(db *sqlx.DB, logger *logrus.Logger) *ReservationAttemptRepository {
	return &ReservationAttemptRepository{
		db:     db,
		logger: logger,
	}
}

// Log inserts one attempt row
func (r *ReservationAttemptRepository) Log(ctx context.Context, attempt *models.ReservationAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt cannot be nil")
	}

	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO reservation_attempts (
			id, flow_id, user_id, kind,
			main_item_id, main_item_qty, added_items,
			start_date, end_date,
			outcome, http_status, transaction_id, message,
			platform, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.FlowID, attempt.UserID, attempt.Kind,
		attempt.MainItemID, attempt.MainItemQty, attempt.AddedItems,
		attempt.StartDate, attempt.EndDate,
		attempt.Outcome, attempt.HTTPStatus, attempt.TransactionID, attempt.Message,
		attempt.Platform, attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log reservation attempt: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"flow_id":    attempt.FlowID,
		"kind":       attempt.Kind,
		"outcome":    attempt.Outcome,
	}).Debug("Reservation attempt logged")

	return nil
}

// ListByFlow returns the attempts of one flow, oldest first
func (r *ReservationAttemptRepository) ListByFlow(ctx context.Context, flowID uuid.UUID) ([]*models.ReservationAttempt, error) {
	var attempts []*models.ReservationAttempt
	query := `
		SELECT id, flow_id, user_id, kind, main_item_id, main_item_qty, added_items,
		       start_date, end_date, outcome, http_status, transaction_id, message,
		       platform, created_at
		FROM reservation_attempts
		WHERE flow_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &attempts, query, flowID); err != nil {
		return nil, fmt.Errorf("failed to list attempts by flow: %w", err)
	}
	return attempts, nil
}

// DeleteOlderThan removes attempts created before cutoff
func (r *ReservationAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservation_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted attempts: %w", err)
	}
	return deleted, nil
}
