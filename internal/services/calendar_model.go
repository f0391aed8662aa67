package services

import (
	"sort"
	"time"

	"github.com/traillend/reservation-flow/internal/models"
)

// CalendarState is the selection state of the availability calendar
type CalendarState string

const (
	CalendarEmpty            CalendarState = "empty"
	CalendarMapLoaded        CalendarState = "map_loaded"
	CalendarBorrowDateChosen CalendarState = "borrow_date_chosen"
	CalendarRangeComplete    CalendarState = "range_complete"
)

// DateRole says which end of the range a tapped date sets
type DateRole string

const (
	RoleBorrow DateRole = "borrow"
	RoleReturn DateRole = "return"
)

// DateMark is the display state of one calendar day
type DateMark string

const (
	MarkAvailable      DateMark = "available"
	MarkFullyReserved  DateMark = "fully_reserved"
	MarkSelectedBorrow DateMark = "selected_borrow"
	MarkSelectedReturn DateMark = "selected_return"
)

// SelectedDate is the outcome of a successful selection
type SelectedDate struct {
	Date         string   `json:"date"`
	Role         DateRole `json:"role"`
	AvailableQty *int     `json:"available_qty,omitempty"`
}

// CalendarModel indexes one item's availability map and enforces the
// day-selection rules. Not safe for concurrent use; the owning flow serialises access.
type CalendarModel struct {
	now         func() time.Time
	entries     map[string]models.AvailabilityEntry
	loaded      bool
	state       CalendarState
	highlighted string
	highlightAs DateRole
	borrow      string
	ret         string
}

// NewCalendarModel creates an empty calendar
func NewCalendarModel(now func() time.Time) *CalendarModel {
	if now == nil {
		now = time.Now
	}
	return &CalendarModel{
		now:     now,
		entries: map[string]models.AvailabilityEntry{},
		state:   CalendarEmpty,
	}
}

// Ingest replaces the index wholesale. The highlight is discarded; chosen
// borrow and return dates are kept.
func (c *CalendarModel) Ingest(entries []models.AvailabilityEntry) {
	index := make(map[string]models.AvailabilityEntry, len(entries))
	for _, e := range entries {
		index[e.Date] = e
	}
	c.entries = index
	c.loaded = true
	c.highlighted = ""
	c.highlightAs = ""
	c.state = CalendarMapLoaded
}

// Loaded reports whether a map has been ingested
func (c *CalendarModel) Loaded() bool {
	return c.loaded
}

// State returns the current selection state
func (c *CalendarModel) State() CalendarState {
	return c.state
}

// CanSelect validates a tap without changing anything
func (c *CalendarModel) CanSelect(date string, role DateRole) error {
	if !c.loaded {
		return newValidationError("date", "Calendar Not Ready", "Availability is still loading.", ErrCalendarNotLoaded)
	}
	if role != RoleBorrow && role != RoleReturn {
		return newValidationError("role", "Invalid", "Role must be borrow or return.", ErrInvalidDate)
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return newValidationError("date", "Invalid", "Dates must use the YYYY-MM-DD format.", ErrInvalidDate)
	}
	if date < c.today() {
		return newValidationError("date", "Invalid", "Past dates cannot be selected.", ErrDateInPast)
	}
	if entry, ok := c.entries[date]; ok && entry.Status == models.AvailabilityFullyReserved {
		return newValidationError("date", "Unavailable", "That date is fully reserved.", ErrDateFullyReserved)
	}
	if role == RoleReturn && c.borrow != "" && date < c.borrow {
		return newValidationError("date", "Invalid", "Return date must be after borrow date.", ErrReturnBeforeBorrow)
	}
	return nil
}

// Select applies a tap. availableQty is the quantity to report for the date,
// usually AvailableQtyFor or a single-date fetch.
func (c *CalendarModel) Select(date string, role DateRole, availableQty *int) (SelectedDate, error) {
	if err := c.CanSelect(date, role); err != nil {
		return SelectedDate{}, err
	}

	switch role {
	case RoleBorrow:
		c.borrow = date
		if c.ret != "" && c.ret < date {
			c.ret = ""
		}
	case RoleReturn:
		c.ret = date
	}

	c.highlighted = date
	c.highlightAs = role

	switch {
	case c.borrow != "" && c.ret != "":
		c.state = CalendarRangeComplete
	case c.borrow != "":
		c.state = CalendarBorrowDateChosen
	default:
		c.state = CalendarMapLoaded
	}

	return SelectedDate{Date: date, Role: role, AvailableQty: availableQty}, nil
}

// AvailableQtyFor returns the quantity the map carries for a date
func (c *CalendarModel) AvailableQtyFor(date string) (int, bool) {
	entry, ok := c.entries[date]
	if !ok || entry.AvailableQty == nil {
		return 0, false
	}
	return *entry.AvailableQty, true
}

// Selection returns the chosen range, possibly incomplete
func (c *CalendarModel) Selection() models.DateRange {
	return models.DateRange{Start: c.borrow, End: c.ret}
}

// SetRange forces the chosen range, e.g. after accepting a suggested one
func (c *CalendarModel) SetRange(r models.DateRange) {
	c.borrow = r.Start
	c.ret = r.End
	if c.loaded && r.IsComplete() {
		c.state = CalendarRangeComplete
	}
}

// Marks returns the display state of every indexed date plus the highlighted one.
// Only the last tapped date is highlighted.
func (c *CalendarModel) Marks() map[string]DateMark {
	marks := make(map[string]DateMark, len(c.entries)+1)
	for date, e := range c.entries {
		if e.Status == models.AvailabilityFullyReserved {
			marks[date] = MarkFullyReserved
		} else {
			marks[date] = MarkAvailable
		}
	}
	switch c.highlightAs {
	case RoleBorrow:
		marks[c.highlighted] = MarkSelectedBorrow
	case RoleReturn:
		marks[c.highlighted] = MarkSelectedReturn
	}
	return marks
}

// Entries returns the index sorted by date
func (c *CalendarModel) Entries() []models.AvailabilityEntry {
	out := make([]models.AvailabilityEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// MinDate is the earliest selectable date
func (c *CalendarModel) MinDate() string {
	return c.today()
}

// Reset drops the index and the chosen range
func (c *CalendarModel) Reset() {
	c.entries = map[string]models.AvailabilityEntry{}
	c.loaded = false
	c.state = CalendarEmpty
	c.highlighted = ""
	c.highlightAs = ""
	c.borrow = ""
	c.ret = ""
}

func (c *CalendarModel) today() string {
	return c.now().Format(models.DateLayout)
}
