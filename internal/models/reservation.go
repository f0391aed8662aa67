package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format of every date exchanged with the backend
const DateLayout = "2006-01-02"

// ============================================================================
// INVENTORY & AVAILABILITY
// ============================================================================

// InventoryItem is a read-only item from the community inventory
type InventoryItem struct {
	ID               int    `json:"item_id"`
	Name             string `json:"name"`
	Image            string `json:"image,omitempty"`
	Owner            string `json:"owner,omitempty"`
	Description      string `json:"description,omitempty"`
	AvailableQtyHint *int   `json:"available_qty,omitempty"`
}

// AvailabilityStatus is the per-date classification of the calendar
type AvailabilityStatus string

const (
	AvailabilityAvailable     AvailabilityStatus = "available"
	AvailabilityFullyReserved AvailabilityStatus = "fully_reserved"
)

// ClassifyStatus maps a backend status string. Only "fully_reserved" blocks a date.
func ClassifyStatus(raw string) AvailabilityStatus {
	if raw == string(AvailabilityFullyReserved) {
		return AvailabilityFullyReserved
	}
	return AvailabilityAvailable
}

// AvailabilityEntry is one calendar day of an item
type AvailabilityEntry struct {
	Date         string             `json:"date"`
	Status       AvailabilityStatus `json:"status"`
	AvailableQty *int               `json:"available_qty,omitempty"`
}

// DateRange is an inclusive borrow/return range of YYYY-MM-DD dates
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsComplete reports whether both ends are set
func (r DateRange) IsComplete() bool {
	return r.Start != "" && r.End != ""
}

// Validate checks that both dates parse and start <= end
func (r DateRange) Validate() error {
	if !r.IsComplete() {
		return errors.New("borrow and return dates are required")
	}
	start, err := time.Parse(DateLayout, r.Start)
	if err != nil {
		return fmt.Errorf("invalid start date %q", r.Start)
	}
	end, err := time.Parse(DateLayout, r.End)
	if err != nil {
		return fmt.Errorf("invalid end date %q", r.End)
	}
	if end.Before(start) {
		return errors.New("return date must not precede borrow date")
	}
	return nil
}

// ============================================================================
// BASKET & DRAFT
// ============================================================================

// BasketEntry is one line of the reservation basket. EntryID addresses the
// entry even when the same item was added twice.
type BasketEntry struct {
	EntryID          uuid.UUID `json:"entry_id"`
	ItemID           int       `json:"item_id"`
	Name             string    `json:"name"`
	Image            string    `json:"image,omitempty"`
	Description      string    `json:"description,omitempty"`
	Owner            string    `json:"owner,omitempty"`
	AvailableQtyHint *int      `json:"available_qty_hint,omitempty"`
	RequestedQty     *int      `json:"requested_qty"`
	Primary          bool      `json:"primary"`
}

// Clone returns a deep copy
func (e BasketEntry) Clone() BasketEntry {
	out := e
	if e.AvailableQtyHint != nil {
		v := *e.AvailableQtyHint
		out.AvailableQtyHint = &v
	}
	if e.RequestedQty != nil {
		v := *e.RequestedQty
		out.RequestedQty = &v
	}
	return out
}

// DocumentKind identifies which supporting image a Document is
type DocumentKind string

const (
	DocumentLetter  DocumentKind = "letter"
	DocumentValidID DocumentKind = "valid_id"
)

// ParseDocumentKind accepts the route names of the two documents
func ParseDocumentKind(s string) (DocumentKind, bool) {
	switch DocumentKind(s) {
	case DocumentLetter, DocumentValidID:
		return DocumentKind(s), true
	}
	return "", false
}

// UploadName is the file name the backend expects for the document
func (k DocumentKind) UploadName() string {
	if k == DocumentLetter {
		return "letter.jpg"
	}
	return "valid_id.jpg"
}

// Document is an uploaded supporting image
type Document struct {
	Kind        DocumentKind `json:"kind"`
	FileName    string       `json:"file_name"`
	ContentType string       `json:"content_type"`
	Data        []byte       `json:"-"`
	Size        int          `json:"size"`
}

// PriorityTier is the urgency class the backend sorts requests by
type PriorityTier string

const (
	PriorityHigh PriorityTier = "High"
	PriorityLow  PriorityTier = "Low"
)

// Priority details offered to the user
const (
	DetailFuneral         = "Funeral"
	DetailGovernment      = "Government Activities"
	DetailFamilyGathering = "Family Gathering"
	DetailSchoolEvents    = "School Events"
	DetailOthers          = "Others"
)

// TierFor maps a priority detail to its tier
func TierFor(detail string) (PriorityTier, bool) {
	switch detail {
	case DetailFuneral, DetailGovernment:
		return PriorityHigh, true
	case DetailFamilyGathering, DetailSchoolEvents, DetailOthers:
		return PriorityLow, true
	}
	return "", false
}

// ReservationDraft is the immutable payload of one submission attempt
type ReservationDraft struct {
	ID             uuid.UUID     `json:"id"`
	Primary        BasketEntry   `json:"primary"`
	Supplementary  []BasketEntry `json:"supplementary"`
	Range          DateRange     `json:"range"`
	PriorityTier   PriorityTier  `json:"priority"`
	PriorityDetail string        `json:"priority_detail"`
	Message        string        `json:"message"`
	Contact        string        `json:"contact"`
	Letter         *Document     `json:"letter,omitempty"`
	ValidID        *Document     `json:"valid_id,omitempty"`
	TermsAccepted  bool          `json:"terms_accepted"`
}

// WithRange returns a copy of the draft for a new range. The copy gets a new
// id so it is a distinct submission attempt.
func (d ReservationDraft) WithRange(r DateRange) ReservationDraft {
	out := d
	out.ID = uuid.New()
	out.Range = r
	out.Primary = d.Primary.Clone()
	out.Supplementary = make([]BasketEntry, len(d.Supplementary))
	for i, e := range d.Supplementary {
		out.Supplementary[i] = e.Clone()
	}
	return out
}

// ============================================================================
// SERVER OUTCOMES
// ============================================================================

// ItemRef identifies an item the server reported as unavailable
type ItemRef struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConflictSuggestion is the body of a submission 409
type ConflictSuggestion struct {
	UnavailableItems []ItemRef   `json:"unavailable_items"`
	SuggestedRanges  []DateRange `json:"suggested_ranges"`
}

// Preferred returns the first suggested range, if any
func (c ConflictSuggestion) Preferred() (DateRange, bool) {
	if len(c.SuggestedRanges) == 0 {
		return DateRange{}, false
	}
	return c.SuggestedRanges[0], true
}

// ReservationStatusPending is the status of every newly created reservation
const ReservationStatusPending = "pending"

// Reservation is the server-owned record created by a successful submission
type Reservation struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// QuantityInput is a user-entered quantity; clients send it as a string or a number
type QuantityInput string

// UnmarshalJSON implements json.Unmarshaler
func (q *QuantityInput) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		*q = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*q = QuantityInput(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("quantity must be a string or a number")
	}
	*q = QuantityInput(n.String())
	return nil
}
