package services

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/pkg/inventoryapi"
)

// StatusFilter is one tab of the reservation status screen
type StatusFilter string

const (
	FilterAll       StatusFilter = ""
	FilterPending   StatusFilter = "Pending"
	FilterUpcoming  StatusFilter = "Upcoming"
	FilterInUse     StatusFilter = "In Use"
	FilterPast      StatusFilter = "Past"
	FilterCancelled StatusFilter = "Cancelled"
)

var filterStatuses = map[StatusFilter][]string{
	FilterPending:   {"pending"},
	FilterUpcoming:  {"approved"},
	FilterInUse:     {"in use"},
	FilterPast:      {"returned"},
	FilterCancelled: {"cancelled", "declined"},
}

// ParseStatusFilter accepts a filter name in any letter case
func ParseStatusFilter(raw string) (StatusFilter, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FilterAll, true
	}
	for f := range filterStatuses {
		if strings.EqualFold(string(f), raw) {
			return f, true
		}
	}
	return "", false
}

// Matches reports whether a reservation status belongs to the filter
func (f StatusFilter) Matches(status string) bool {
	if f == FilterAll {
		return true
	}
	for _, s := range filterStatuses[f] {
		if strings.EqualFold(s, strings.TrimSpace(status)) {
			return true
		}
	}
	return false
}

// ReservationLister is the slice of the gateway used by the status screen
type ReservationLister interface {
	ListReservations(ctx context.Context) ([]inventoryapi.ReservationRecord, error)
	CancelReservation(ctx context.Context, reservationID int) error
}

// ReservationListerFactory binds a lister to one user's tokens
type ReservationListerFactory func(tokens inventoryapi.TokenSource) ReservationLister

// ReservationSummary is a reservation as shown on the status screen
type ReservationSummary struct {
	ID            int                      `json:"id"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Status        string                   `json:"status"`
	Priority      string                   `json:"priority,omitempty"`
	DateBorrowed  string                   `json:"date_borrowed"`
	DateReturn    string                   `json:"date_return"`
	Items         []ReservationSummaryItem `json:"items"`
	Cancellable   bool                     `json:"cancellable"`
}

// ReservationSummaryItem is one line of a reservation
type ReservationSummaryItem struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Quantity int    `json:"quantity"`
}

// ReservationStatusService lists and cancels the user's reservations
type ReservationStatusService struct {
	listers ReservationListerFactory
	refresh inventoryapi.RefreshFunc
	logger  *logrus.Logger
}

// NewReservationStatusService creates a new reservation status service
func NewReservationStatusService(listers ReservationListerFactory, refresh inventoryapi.RefreshFunc, logger *logrus.Logger) *ReservationStatusService {
	return &ReservationStatusService{listers: listers, refresh: refresh, logger: logger}
}

func (s *ReservationStatusService) lister(creds Credentials) (ReservationLister, *inventoryapi.RefreshingTokenSource) {
	tokens := inventoryapi.NewRefreshingTokenSource(creds.AccessToken, creds.RefreshToken, s.refresh)
	return s.listers(tokens), tokens
}

// List returns the user's reservations matching the filter. The second
// return value is a refreshed access token, empty when none was minted.
func (s *ReservationStatusService) List(ctx context.Context, creds Credentials, filter StatusFilter) ([]ReservationSummary, string, error) {
	lister, tokens := s.lister(creds)

	records, err := lister.ListReservations(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", creds.UserID).Warn("Failed to list reservations")
		return nil, refreshed(tokens, creds), gatewayError("list reservations", err)
	}

	out := make([]ReservationSummary, 0, len(records))
	for _, r := range records {
		if !filter.Matches(r.Status) {
			continue
		}
		out = append(out, toReservationSummary(r))
	}
	return out, refreshed(tokens, creds), nil
}

// Cancel cancels a pending reservation
func (s *ReservationStatusService) Cancel(ctx context.Context, creds Credentials, reservationID int) (string, error) {
	lister, tokens := s.lister(creds)

	log := s.logger.WithFields(logrus.Fields{
		"user_id":        creds.UserID,
		"reservation_id": reservationID,
	})

	if err := lister.CancelReservation(ctx, reservationID); err != nil {
		var statusErr *inventoryapi.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			return refreshed(tokens, creds), ErrReservationNotFound
		}
		log.WithError(err).Warn("Failed to cancel reservation")
		return refreshed(tokens, creds), gatewayError("cancel reservation", err)
	}

	log.Info("Reservation cancelled")
	return refreshed(tokens, creds), nil
}

func refreshed(tokens *inventoryapi.RefreshingTokenSource, creds Credentials) string {
	if current := tokens.Current(); current != creds.AccessToken {
		return current
	}
	return ""
}

func toReservationSummary(r inventoryapi.ReservationRecord) ReservationSummary {
	items := make([]ReservationSummaryItem, 0, len(r.Items))
	for _, line := range r.Items {
		items = append(items, ReservationSummaryItem{
			Name:     line.Name,
			ImageURL: line.ImageURL,
			Quantity: int(line.Quantity),
		})
	}
	return ReservationSummary{
		ID:            int(r.ID),
		TransactionID: r.TransactionID,
		Status:        r.Status,
		Priority:      r.Priority,
		DateBorrowed:  r.DateBorrowed,
		DateReturn:    r.DateReturn,
		Items:         items,
		Cancellable:   FilterPending.Matches(r.Status),
	}
}
