package services

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/traillend/reservation-flow/internal/models"
)

// BasketOptions configures basket rules
type BasketOptions struct {
	// AllowDuplicates lets the same item be added as several supplementary entries
	AllowDuplicates bool
}

// ReservationBasket holds one primary entry and any number of supplementary
// entries, each with its own quantity. Not safe for concurrent use.
type ReservationBasket struct {
	primary       models.BasketEntry
	supplementary []models.BasketEntry
	opts          BasketOptions
}

// NewReservationBasket creates a basket whose primary entry is item, quantity unset
func NewReservationBasket(item models.InventoryItem, opts BasketOptions) *ReservationBasket {
	primary := entryFor(item)
	primary.Primary = true
	return &ReservationBasket{primary: primary, opts: opts}
}

func entryFor(item models.InventoryItem) models.BasketEntry {
	entry := models.BasketEntry{
		EntryID:     uuid.New(),
		ItemID:      item.ID,
		Name:        item.Name,
		Image:       item.Image,
		Description: item.Description,
		Owner:       item.Owner,
	}
	if item.AvailableQtyHint != nil {
		v := *item.AvailableQtyHint
		entry.AvailableQtyHint = &v
	}
	return entry
}

// ParseQuantity parses a user-entered quantity. Blank, non-numeric and
// non-positive input is rejected, never coerced to zero.
func ParseQuantity(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError("qty", "Missing Quantity", "Enter quantity to borrow.", ErrMissingQuantity)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, newValidationError("qty", "Invalid Quantity", "Quantity must be a positive whole number.", ErrInvalidQuantity)
	}
	return n, nil
}

func checkHint(qty int, hint *int) error {
	if hint != nil && qty > *hint {
		return newValidationError("qty", "Invalid Quantity", "Quantity exceeds available items.", ErrQuantityExceedsAvailable)
	}
	return nil
}

// SetPrimary replaces the primary item and sets its quantity
func (b *ReservationBasket) SetPrimary(item models.InventoryItem, raw string) error {
	qty, err := ParseQuantity(raw)
	if err != nil {
		return err
	}
	entry := entryFor(item)
	entry.Primary = true
	entry.EntryID = b.primary.EntryID
	if entry.AvailableQtyHint == nil && entry.ItemID == b.primary.ItemID {
		entry.AvailableQtyHint = b.primary.AvailableQtyHint
	}
	if err := checkHint(qty, entry.AvailableQtyHint); err != nil {
		return err
	}
	entry.RequestedQty = &qty
	b.primary = entry
	return nil
}

// AddSupplementary appends an entry with an unset quantity
func (b *ReservationBasket) AddSupplementary(item models.InventoryItem) (models.BasketEntry, error) {
	if !b.opts.AllowDuplicates {
		if _, found := b.EntryByItemID(item.ID); found {
			return models.BasketEntry{}, newValidationError("item_id", "Already Added", "This item is already in your reservation.", ErrDuplicateItem)
		}
	}
	entry := entryFor(item)
	b.supplementary = append(b.supplementary, entry)
	return entry.Clone(), nil
}

// SetQty updates exactly one entry. An empty value unsets a supplementary
// quantity; the primary quantity cannot be unset.
func (b *ReservationBasket) SetQty(entryID uuid.UUID, raw string) error {
	if entryID == b.primary.EntryID {
		qty, err := ParseQuantity(raw)
		if err != nil {
			return err
		}
		if err := checkHint(qty, b.primary.AvailableQtyHint); err != nil {
			return err
		}
		b.primary.RequestedQty = &qty
		return nil
	}

	i := b.indexOf(entryID)
	if i < 0 {
		return ErrEntryNotFound
	}
	if strings.TrimSpace(raw) == "" {
		b.supplementary[i].RequestedQty = nil
		return nil
	}
	qty, err := ParseQuantity(raw)
	if err != nil {
		return err
	}
	if err := checkHint(qty, b.supplementary[i].AvailableQtyHint); err != nil {
		return err
	}
	b.supplementary[i].RequestedQty = &qty
	return nil
}

// Remove drops exactly one supplementary entry
func (b *ReservationBasket) Remove(entryID uuid.UUID) error {
	if entryID == b.primary.EntryID {
		return ErrPrimaryNotRemovable
	}
	i := b.indexOf(entryID)
	if i < 0 {
		return ErrEntryNotFound
	}
	b.supplementary = append(b.supplementary[:i], b.supplementary[i+1:]...)
	return nil
}

// UpdateHint records the latest known available quantity of an entry
func (b *ReservationBasket) UpdateHint(entryID uuid.UUID, hint *int) error {
	var copied *int
	if hint != nil {
		v := *hint
		copied = &v
	}
	if entryID == b.primary.EntryID {
		b.primary.AvailableQtyHint = copied
		return nil
	}
	i := b.indexOf(entryID)
	if i < 0 {
		return ErrEntryNotFound
	}
	b.supplementary[i].AvailableQtyHint = copied
	return nil
}

// Primary returns a copy of the primary entry
func (b *ReservationBasket) Primary() models.BasketEntry {
	return b.primary.Clone()
}

// Supplementary returns copies of the supplementary entries in insertion order
func (b *ReservationBasket) Supplementary() []models.BasketEntry {
	out := make([]models.BasketEntry, len(b.supplementary))
	for i, e := range b.supplementary {
		out[i] = e.Clone()
	}
	return out
}

// Snapshot returns the primary followed by the supplementary entries
func (b *ReservationBasket) Snapshot() []models.BasketEntry {
	return append([]models.BasketEntry{b.Primary()}, b.Supplementary()...)
}

// EntryByItemID returns the first entry for an item in snapshot order
func (b *ReservationBasket) EntryByItemID(itemID int) (models.BasketEntry, bool) {
	if b.primary.ItemID == itemID {
		return b.primary.Clone(), true
	}
	for _, e := range b.supplementary {
		if e.ItemID == itemID {
			return e.Clone(), true
		}
	}
	return models.BasketEntry{}, false
}

// Clear drops every supplementary entry and the primary quantity
func (b *ReservationBasket) Clear() {
	b.supplementary = nil
	b.primary.RequestedQty = nil
}

func (b *ReservationBasket) indexOf(entryID uuid.UUID) int {
	for i, e := range b.supplementary {
		if e.EntryID == entryID {
			return i
		}
	}
	return -1
}
