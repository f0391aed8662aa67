package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/models"
	"github.com/traillend/reservation-flow/pkg/inventoryapi"
)

// RangeChecker is the slice of the gateway the preflight needs
type RangeChecker interface {
	CheckRange(ctx context.Context, itemID, qty int, dr inventoryapi.DateRange) inventoryapi.RangeCheck
}

// PreflightOutcome is the result class of a preflight check
type PreflightOutcome string

const (
	PreflightProceed         PreflightOutcome = "proceed"
	PreflightConflict        PreflightOutcome = "conflict"
	PreflightMissingDates    PreflightOutcome = "missing_dates"
	PreflightMissingQuantity PreflightOutcome = "missing_quantity"
	PreflightCheckFailed     PreflightOutcome = "check_failed"
)

// NoNextAvailableDate is shown when a 409 carries no suggestion
const NoNextAvailableDate = "N/A"

// PreflightResult is the discriminated outcome of a preflight
type PreflightResult struct {
	Outcome           PreflightOutcome `json:"outcome"`
	NextAvailableDate string           `json:"next_available_date,omitempty"`
	Title             string           `json:"title"`
	Message           string           `json:"message"`
	StatusCode        int              `json:"-"`
	Err               error            `json:"-"`
}

// Retryable reports whether running the same check again may succeed
func (r PreflightResult) Retryable() bool {
	return r.Outcome == PreflightCheckFailed
}

// PreflightChecker gates navigation to the summary step on a range check of the
// primary item. It never mutates the basket or the calendar.
type PreflightChecker struct {
	logger *logrus.Logger
}

// NewPreflightChecker creates a new preflight checker
func NewPreflightChecker(logger *logrus.Logger) *PreflightChecker {
	return &PreflightChecker{logger: logger}
}

// Run checks the primary item over the range
func (p *PreflightChecker) Run(ctx context.Context, gw RangeChecker, primary models.BasketEntry, qty string, dr models.DateRange) PreflightResult {
	if !dr.IsComplete() {
		return PreflightResult{
			Outcome: PreflightMissingDates,
			Title:   "Missing Dates",
			Message: "Please select both borrow and return dates before continuing.",
		}
	}

	n, err := ParseQuantity(qty)
	if err != nil {
		return PreflightResult{
			Outcome: PreflightMissingQuantity,
			Title:   "Missing Quantity",
			Message: "Enter how many items you want to borrow.",
			Err:     err,
		}
	}

	check := gw.CheckRange(ctx, primary.ItemID, n, inventoryapi.DateRange{Start: dr.Start, End: dr.End})

	log := p.logger.WithFields(logrus.Fields{
		"item_id":    primary.ItemID,
		"qty":        n,
		"start_date": dr.Start,
		"end_date":   dr.End,
	})

	switch check.Status {
	case inventoryapi.RangeOK:
		log.Debug("Preflight passed")
		return PreflightResult{
			Outcome:    PreflightProceed,
			Title:      "Checking Completed",
			Message:    "Item is available. Redirecting to summary...",
			StatusCode: check.StatusCode,
		}
	case inventoryapi.RangeConflict:
		next := check.NextAvailableDate
		if next == "" {
			next = NoNextAvailableDate
		}
		log.WithField("next_available", next).Info("Preflight conflict")
		return PreflightResult{
			Outcome:           PreflightConflict,
			NextAvailableDate: next,
			Title:             "Unavailable",
			Message:           fmt.Sprintf("Next available: %s", next),
			StatusCode:        check.StatusCode,
			Err:               &ConflictError{Message: "item is unavailable for the selected dates", NextAvailableDate: next},
		}
	}

	if errors.Is(check.Err, inventoryapi.ErrSessionExpired) {
		log.Info("Preflight stopped, session expired")
		return PreflightResult{
			Outcome: PreflightCheckFailed,
			Title:   "Session Expired",
			Message: "Please log in again.",
			Err:     check.Err,
		}
	}
	if check.Err != nil {
		log.WithError(check.Err).Warn("Preflight transport failure")
		return PreflightResult{
			Outcome: PreflightCheckFailed,
			Title:   "Network Error",
			Message: "Please check your internet connection.",
			Err:     &TransportError{Op: "check availability", Err: check.Err},
		}
	}

	message := check.Message
	if message == "" {
		message = "Could not check item availability."
	}
	log.WithField("status", check.StatusCode).Warn("Preflight check failed")
	return PreflightResult{
		Outcome:    PreflightCheckFailed,
		Title:      "Error Checking Availability",
		Message:    message,
		StatusCode: check.StatusCode,
		Err:        &ServerError{StatusCode: check.StatusCode, Message: message},
	}
}
