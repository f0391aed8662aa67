package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AttemptKind is what kind of backend call an attempt records
type AttemptKind string

const (
	AttemptPreflight  AttemptKind = "preflight"
	AttemptSubmission AttemptKind = "submission"
)

// AttemptItem is one supplementary line of an attempt
type AttemptItem struct {
	ItemID int    `json:"item_id"`
	Qty    string `json:"qty"`
}

// AttemptItems stores supplementary lines in JSONB
type AttemptItems []AttemptItem

func (a AttemptItems) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func (a *AttemptItems) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed for AttemptItems")
	}
	return json.Unmarshal(bytes, a)
}

// ReservationAttempt is an immutable audit row for a preflight or submission
type ReservationAttempt struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	FlowID        uuid.UUID    `json:"flow_id" db:"flow_id"`
	UserID        string       `json:"user_id" db:"user_id"`
	Kind          AttemptKind  `json:"kind" db:"kind"`
	MainItemID    int          `json:"main_item_id" db:"main_item_id"`
	MainItemQty   int          `json:"main_item_qty" db:"main_item_qty"`
	AddedItems    AttemptItems `json:"added_items" db:"added_items"`
	StartDate     string       `json:"start_date" db:"start_date"`
	EndDate       string       `json:"end_date" db:"end_date"`
	Outcome       string       `json:"outcome" db:"outcome"`
	HTTPStatus    *int         `json:"http_status,omitempty" db:"http_status"`
	TransactionID *string      `json:"transaction_id,omitempty" db:"transaction_id"`
	Message       *string      `json:"message,omitempty" db:"message"`
	Platform      string       `json:"platform" db:"platform"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}
