package database

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traillend/reservation-flow/internal/models"
)

func setupAttemptRepositoryTest(t *testing.T) (*ReservationAttemptRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewReservationAttemptRepository(sqlx.NewDb(db, "sqlmock"), logger), mock
}

func TestReservationAttemptLog(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mock := setupAttemptRepositoryTest(t)

		status := 201
		tx := "TX-1001"
		attempt := &models.ReservationAttempt{
			FlowID:        uuid.New(),
			UserID:        "42",
			Kind:          models.AttemptSubmission,
			MainItemID:    7,
			MainItemQty:   2,
			AddedItems:    models.AttemptItems{{ItemID: 9, Qty: "0"}},
			StartDate:     "2024-05-10",
			EndDate:       "2024-05-12",
			Outcome:       "created",
			HTTPStatus:    &status,
			TransactionID: &tx,
			Platform:      "android",
		}

		mock.ExpectExec(`INSERT INTO reservation_attempts`).
			WithArgs(
				sqlmock.AnyArg(), attempt.FlowID, "42", models.AttemptSubmission,
				7, 2, `[{"item_id":9,"qty":"0"}]`,
				"2024-05-10", "2024-05-12",
				"created", &status, &tx, nil,
				"android", sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Log(context.Background(), attempt)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, attempt.ID)
		assert.False(t, attempt.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nil Attempt", func(t *testing.T) {
		repo, _ := setupAttemptRepositoryTest(t)
		assert.Error(t, repo.Log(context.Background(), nil))
	})

	t.Run("Database Error", func(t *testing.T) {
		repo, mock := setupAttemptRepositoryTest(t)

		mock.ExpectExec(`INSERT INTO reservation_attempts`).
			WillReturnError(fmt.Errorf("connection reset"))

		err := repo.Log(context.Background(), &models.ReservationAttempt{FlowID: uuid.New(), Kind: models.AttemptPreflight})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to log reservation attempt")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReservationAttemptListByFlow(t *testing.T) {
	repo, mock := setupAttemptRepositoryTest(t)

	flowID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "flow_id", "user_id", "kind", "main_item_id", "main_item_qty", "added_items",
		"start_date", "end_date", "outcome", "http_status", "transaction_id", "message",
		"platform", "created_at",
	}).
		AddRow(uuid.New().String(), flowID.String(), "42", "preflight", 7, 2, []byte(`[]`),
			"2024-05-10", "2024-05-12", "conflict", 409, nil, "Next available: 2024-05-20",
			"ios", now).
		AddRow(uuid.New().String(), flowID.String(), "42", "submission", 7, 2, []byte(`[{"item_id":9,"qty":"3"}]`),
			"2024-05-20", "2024-05-22", "created", 201, "TX-9", nil,
			"ios", now.Add(time.Minute))

	mock.ExpectQuery(`SELECT (.+) FROM reservation_attempts WHERE flow_id = \$1`).
		WithArgs(flowID).
		WillReturnRows(rows)

	attempts, err := repo.ListByFlow(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	assert.Equal(t, models.AttemptPreflight, attempts[0].Kind)
	assert.Empty(t, attempts[0].AddedItems)
	require.NotNil(t, attempts[0].Message)
	assert.Equal(t, "Next available: 2024-05-20", *attempts[0].Message)

	assert.Equal(t, models.AttemptItems{{ItemID: 9, Qty: "3"}}, attempts[1].AddedItems)
	require.NotNil(t, attempts[1].TransactionID)
	assert.Equal(t, "TX-9", *attempts[1].TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationAttemptDeleteOlderThan(t *testing.T) {
	repo, mock := setupAttemptRepositoryTest(t)

	cutoff := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM reservation_attempts WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
