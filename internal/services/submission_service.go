package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/models"
	"github.com/traillend/reservation-flow/pkg/inventoryapi"
)

// ReservationCreator is the slice of the gateway the assembler needs
type ReservationCreator interface {
	CreateReservation(ctx context.Context, req inventoryapi.CreateReservationRequest) inventoryapi.CreateReservationResult
}

// SubmissionStatus is the result class of a submission
type SubmissionStatus string

const (
	SubmissionCreated  SubmissionStatus = "created"
	SubmissionConflict SubmissionStatus = "conflict"
	SubmissionFailed   SubmissionStatus = "failed"
)

// FailureKind distinguishes retryable transport failures from server rejections
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureServer    FailureKind = "server"
)

// DefaultSubmissionFailure is shown when the server gave no detail
const DefaultSubmissionFailure = "Something went wrong."

// SubmissionResult is the discriminated outcome of a submission
type SubmissionResult struct {
	Status      SubmissionStatus           `json:"status"`
	Reservation *models.Reservation        `json:"reservation,omitempty"`
	Conflict    *models.ConflictSuggestion `json:"conflict,omitempty"`
	Title       string                     `json:"title"`
	Message     string                     `json:"message"`
	Kind        FailureKind                `json:"kind,omitempty"`
	StatusCode  int                        `json:"-"`
	Err         error                      `json:"-"`
}

// ReservationSubmissionAssembler turns a draft into the create_reservation call
type ReservationSubmissionAssembler struct {
	guard  SubmissionGuard
	logger *logrus.Logger
}

// NewReservationSubmissionAssembler creates a new assembler
func NewReservationSubmissionAssembler(guard SubmissionGuard, logger *logrus.Logger) *ReservationSubmissionAssembler {
	if guard == nil {
		guard = NewMemorySubmissionGuard()
	}
	return &ReservationSubmissionAssembler{guard: guard, logger: logger}
}

// ValidateDraft checks the local preconditions of a submission
func ValidateDraft(draft models.ReservationDraft) error {
	if !draft.TermsAccepted {
		return newValidationError("terms_accepted", "Terms Not Accepted", "Please agree to the Terms and Conditions before proceeding.", nil)
	}
	if draft.Letter == nil {
		return newValidationError("letter", "Request Letter Required", "Please upload your Request letter.", nil)
	}
	if draft.ValidID == nil {
		return newValidationError("valid_id", "Valid ID Required", "Please upload your valid ID.", nil)
	}
	if err := draft.Range.Validate(); err != nil {
		return newValidationError("range", "Missing Dates", "Please select both borrow and return dates before continuing.", err)
	}
	if draft.Primary.RequestedQty == nil || *draft.Primary.RequestedQty <= 0 {
		return newValidationError("qty", "Missing Quantity", "Enter how many items you want to borrow.", ErrMissingQuantity)
	}
	return nil
}

// BuildCreateRequest maps a draft onto the multipart form fields
func BuildCreateRequest(draft models.ReservationDraft) inventoryapi.CreateReservationRequest {
	added := make([]inventoryapi.AddedItem, 0, len(draft.Supplementary))
	for _, e := range draft.Supplementary {
		qty := "0"
		if e.RequestedQty != nil {
			qty = strconv.Itoa(*e.RequestedQty)
		}
		added = append(added, inventoryapi.AddedItem{ID: e.ItemID, Qty: qty})
	}

	message := draft.Message
	if message == "" {
		message = "N/A"
	}

	req := inventoryapi.CreateReservationRequest{
		MainItemID:     draft.Primary.ItemID,
		AddedItems:     added,
		StartDate:      draft.Range.Start,
		EndDate:        draft.Range.End,
		Priority:       string(draft.PriorityTier),
		PriorityDetail: draft.PriorityDetail,
		Message:        message,
		Contact:        draft.Contact,
	}
	if draft.Primary.RequestedQty != nil {
		req.MainItemQty = *draft.Primary.RequestedQty
	}
	if draft.Letter != nil {
		req.Letter = documentFile(draft.Letter, models.DocumentLetter)
	}
	if draft.ValidID != nil {
		req.ValidID = documentFile(draft.ValidID, models.DocumentValidID)
	}
	return req
}

func documentFile(doc *models.Document, kind models.DocumentKind) *inventoryapi.File {
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return &inventoryapi.File{Name: kind.UploadName(), ContentType: contentType, Data: doc.Data}
}

// Submit validates the draft and posts it. Validation failures and a
// concurrent submission of the same draft are returned as errors; every
// backend outcome is a SubmissionResult.
func (a *ReservationSubmissionAssembler) Submit(ctx context.Context, gw ReservationCreator, draft models.ReservationDraft) (SubmissionResult, error) {
	if err := ValidateDraft(draft); err != nil {
		return SubmissionResult{}, err
	}

	key := draft.ID.String()
	acquired, err := a.guard.Acquire(ctx, key)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("acquire submission guard: %w", err)
	}
	if !acquired {
		return SubmissionResult{}, ErrSubmissionInFlight
	}
	defer func() {
		if err := a.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			a.logger.WithError(err).WithField("draft_id", key).Warn("Failed to release submission guard")
		}
	}()

	log := a.logger.WithFields(logrus.Fields{
		"draft_id":    key,
		"main_item":   draft.Primary.ItemID,
		"added_items": len(draft.Supplementary),
		"start_date":  draft.Range.Start,
		"end_date":    draft.Range.End,
	})

	res := gw.CreateReservation(ctx, BuildCreateRequest(draft))

	switch res.Status {
	case inventoryapi.CreateCreated:
		log.WithField("transaction_id", res.TransactionID).Info("Reservation created")
		return SubmissionResult{
			Status:      SubmissionCreated,
			Reservation: &models.Reservation{TransactionID: res.TransactionID, Status: models.ReservationStatusPending},
			Title:       "Reservation Successful",
			Message:     "Your reservation has been created!",
			StatusCode:  res.StatusCode,
		}, nil
	case inventoryapi.CreateConflict:
		suggestion := toConflictSuggestion(res)
		log.WithField("suggested_ranges", len(suggestion.SuggestedRanges)).Info("Reservation conflict")
		return SubmissionResult{
			Status:     SubmissionConflict,
			Conflict:   &suggestion,
			Title:      "Item Not Available",
			Message:    "Some items are unavailable for your selected dates.",
			StatusCode: res.StatusCode,
			Err:        &ConflictError{Message: "some items are unavailable for the selected dates"},
		}, nil
	}

	if errors.Is(res.Err, inventoryapi.ErrSessionExpired) {
		log.Info("Reservation submission stopped, session expired")
		return SubmissionResult{}, res.Err
	}
	if res.Err != nil {
		if errors.Is(res.Err, context.Canceled) {
			log.Info("Reservation submission cancelled")
		} else {
			log.WithError(res.Err).Warn("Reservation submission transport failure")
		}
		return SubmissionResult{
			Status:  SubmissionFailed,
			Kind:    FailureTransport,
			Title:   "Network Error",
			Message: "Please check your connection.",
			Err:     &TransportError{Op: "create reservation", Err: res.Err},
		}, nil
	}

	message := res.Message
	if message == "" {
		message = DefaultSubmissionFailure
	}
	log.WithField("status", res.StatusCode).Warn("Reservation rejected")
	return SubmissionResult{
		Status:     SubmissionFailed,
		Kind:       FailureServer,
		Title:      "Reservation Failed",
		Message:    message,
		StatusCode: res.StatusCode,
		Err:        &ServerError{StatusCode: res.StatusCode, Message: message},
	}, nil
}

func toConflictSuggestion(res inventoryapi.CreateReservationResult) models.ConflictSuggestion {
	suggestion := models.ConflictSuggestion{
		UnavailableItems: make([]models.ItemRef, 0, len(res.UnavailableItems)),
		SuggestedRanges:  make([]models.DateRange, 0, len(res.SuggestedRanges)),
	}
	for _, ref := range res.UnavailableItems {
		suggestion.UnavailableItems = append(suggestion.UnavailableItems, models.ItemRef{ID: ref.ID, Name: ref.Name})
	}
	for _, r := range res.SuggestedRanges {
		suggestion.SuggestedRanges = append(suggestion.SuggestedRanges, models.DateRange{Start: r.Start, End: r.End})
	}
	return suggestion
}
