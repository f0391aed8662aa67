package inventoryapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexInt decodes quantities and ids that the inventory backend sends either
// as JSON numbers or as numeric strings ("3", 3, 3.0).
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}

	if n, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(n)
		return nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.Trunc(v) != v {
		return fmt.Errorf("inventoryapi: %q is not an integer quantity", s)
	}
	*f = FlexInt(int(v))
	return nil
}

// IntPtr converts an optional FlexInt into an optional int
func (f *FlexInt) IntPtr() *int {
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

// DateRange is a start/end pair of YYYY-MM-DD dates as exchanged with the backend
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// UnmarshalJSON accepts both {start,end} and {start_date,end_date}
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start     string `json:"start"`
		End       string `json:"end"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Start = raw.Start
	if r.Start == "" {
		r.Start = raw.StartDate
	}
	r.End = raw.End
	if r.End == "" {
		r.End = raw.EndDate
	}
	return nil
}

// ItemRef identifies an item reported as unavailable by a 409 response.
// The backend sends either bare ids or objects.
type ItemRef struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler
func (r *ItemRef) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '{' {
		var obj struct {
			ID     *FlexInt `json:"id"`
			ItemID *FlexInt `json:"item_id"`
			Name   string   `json:"name"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return err
		}
		switch {
		case obj.ID != nil:
			r.ID = int(*obj.ID)
		case obj.ItemID != nil:
			r.ID = int(*obj.ItemID)
		}
		r.Name = obj.Name
		return nil
	}

	var id FlexInt
	if err := id.UnmarshalJSON(raw); err != nil {
		return err
	}
	r.ID = int(id)
	return nil
}

// Item is an inventory item as listed by /inventory_list/ and /suggest-items/
type Item struct {
	ItemID       FlexInt  `json:"item_id"`
	Name         string   `json:"name"`
	Image        string   `json:"image"`
	Owner        string   `json:"owner"`
	Description  string   `json:"description"`
	AvailableQty *FlexInt `json:"available_qty,omitempty"`
}

// CalendarDay is one entry of the availability map
type CalendarDay struct {
	Status       string   `json:"status"`
	AvailableQty *FlexInt `json:"available_qty,omitempty"`
}

// StatusFullyReserved is the only calendar status the backend singles out
const StatusFullyReserved = "fully_reserved"

// RangeStatus classifies a /reservations/check/ response
type RangeStatus string

const (
	RangeOK       RangeStatus = "ok"
	RangeConflict RangeStatus = "conflict"
	RangeFailed   RangeStatus = "failed"
)

// RangeCheck is the result of a range availability check
type RangeCheck struct {
	Status            RangeStatus
	StatusCode        int
	NextAvailableDate string // empty when the backend gave no hint
	Message           string // server detail for failures
	Err               error  // transport failure, if any
}

// File is a binary part of the create-reservation form
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// AddedItem is one supplementary entry of the added_items JSON field
type AddedItem struct {
	ID  int    `json:"id"`
	Qty string `json:"qty"`
}

// CreateReservationRequest carries every field of the create_reservation form
type CreateReservationRequest struct {
	MainItemID     int
	MainItemQty    int
	AddedItems     []AddedItem
	StartDate      string
	EndDate        string
	Priority       string
	PriorityDetail string
	Message        string
	Contact        string
	Letter         *File
	ValidID        *File
}

// CreateStatus classifies a /create_reservation/ response
type CreateStatus string

const (
	CreateCreated  CreateStatus = "created"
	CreateConflict CreateStatus = "conflict"
	CreateFailed   CreateStatus = "failed"
)

// CreateReservationResult is the interpreted create_reservation response
type CreateReservationResult struct {
	Status           CreateStatus
	StatusCode       int
	TransactionID    string
	UnavailableItems []ItemRef
	SuggestedRanges  []DateRange
	Message          string
	Err              error
}

// ReservationLine is one item of a user's reservation
type ReservationLine struct {
	Name     string  `json:"name"`
	ImageURL string  `json:"image_url"`
	Quantity FlexInt `json:"quantity"`
}

// ReservationRecord is a reservation as returned by /user_reservations/
type ReservationRecord struct {
	ID            FlexInt           `json:"id"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Status        string            `json:"status"`
	Priority      string            `json:"priority,omitempty"`
	DateBorrowed  string            `json:"date_borrowed"`
	DateReturn    string            `json:"date_return"`
	Items         []ReservationLine `json:"items"`
}
