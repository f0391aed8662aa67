package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/models"
)

// NegotiationAction is the user's answer to a submission conflict
type NegotiationAction string

const (
	NegotiationAccept  NegotiationAction = "accept"
	NegotiationDecline NegotiationAction = "decline"
	NegotiationBrowse  NegotiationAction = "browse"
)

// NoAlternativeMessage is shown when the backend suggested no range
const NoAlternativeMessage = "No alternative dates found"

// Negotiation is the state presented after a submission 409
type Negotiation struct {
	Draft            models.ReservationDraft   `json:"-"`
	Suggestion       models.ConflictSuggestion `json:"suggestion"`
	Proposed         *models.DateRange         `json:"proposed_range,omitempty"`
	HasAlternative   bool                      `json:"has_alternative"`
	Options          []NegotiationAction       `json:"options"`
	Title            string                    `json:"title"`
	Message          string                    `json:"message"`
	ProposalDisplay  string                    `json:"proposal_display"`
	UnavailableItems []models.ItemRef          `json:"unavailable_items"`
}

// Resolution is where the flow goes after the user answered
type Resolution struct {
	Action NegotiationAction
	Step   FlowStep
	// Draft is set for accept: the same draft with only the range replaced
	Draft *models.ReservationDraft
	// ResetCalendar is set for browse; basket and documents stay
	ResetCalendar bool
}

// SuggestionNegotiator drives the conflict loop. It never resubmits on its own.
type SuggestionNegotiator struct {
	logger *logrus.Logger
}

// NewSuggestionNegotiator creates a new negotiator
func NewSuggestionNegotiator(logger *logrus.Logger) *SuggestionNegotiator {
	return &SuggestionNegotiator{logger: logger}
}

// Open builds the negotiation for a conflicted draft
func (n *SuggestionNegotiator) Open(draft models.ReservationDraft, suggestion models.ConflictSuggestion) Negotiation {
	neg := Negotiation{
		Draft:            draft,
		Suggestion:       suggestion,
		Title:            "Item Not Available",
		Message:          "Some items are unavailable for your selected dates.",
		UnavailableItems: suggestion.UnavailableItems,
	}
	if neg.UnavailableItems == nil {
		neg.UnavailableItems = []models.ItemRef{}
	}

	if best, ok := suggestion.Preferred(); ok {
		neg.Proposed = &best
		neg.HasAlternative = true
		neg.Options = []NegotiationAction{NegotiationAccept, NegotiationDecline, NegotiationBrowse}
		neg.ProposalDisplay = fmt.Sprintf("%s → %s", best.Start, best.End)
	} else {
		neg.Options = []NegotiationAction{NegotiationDecline, NegotiationBrowse}
		neg.ProposalDisplay = NoAlternativeMessage
	}

	n.logger.WithFields(logrus.Fields{
		"draft_id":          draft.ID,
		"unavailable_items": len(suggestion.UnavailableItems),
		"suggested_ranges":  len(suggestion.SuggestedRanges),
	}).Info("Opened reservation negotiation")

	return neg
}

// Resolve applies the user's answer
func (n *SuggestionNegotiator) Resolve(neg Negotiation, action NegotiationAction) (Resolution, error) {
	switch action {
	case NegotiationAccept:
		if !neg.HasAlternative || neg.Proposed == nil {
			return Resolution{}, ErrNoAlternative
		}
		next := neg.Draft.WithRange(*neg.Proposed)
		return Resolution{Action: action, Step: StepSummary, Draft: &next}, nil
	case NegotiationDecline:
		return Resolution{Action: action, Step: StepAbandoned}, nil
	case NegotiationBrowse:
		return Resolution{Action: action, Step: StepDetails, ResetCalendar: true}, nil
	}
	return Resolution{}, newValidationError("action", "Invalid Option", "Choose accept, decline or browse.", ErrInvalidStep)
}
