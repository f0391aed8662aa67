package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/metrics"
	"github.com/traillend/reservation-flow/internal/models"
	"github.com/traillend/reservation-flow/pkg/inventoryapi"
	"github.com/traillend/reservation-flow/pkg/validator"
)

// FlowStep is the screen a booking flow is on
type FlowStep string

const (
	StepDetails     FlowStep = "details"
	StepSummary     FlowStep = "summary"
	StepNegotiating FlowStep = "negotiating"
	StepCompleted   FlowStep = "completed"
	StepAbandoned   FlowStep = "abandoned"
)

// Gateway is everything a flow needs from the inventory backend
type Gateway interface {
	RangeChecker
	ReservationCreator
	FetchAvailabilityMap(ctx context.Context, itemID int) map[string]inventoryapi.CalendarDay
	FetchAvailabilityForDate(ctx context.Context, itemID int, date string) *int
	GetItem(ctx context.Context, itemID int) (*inventoryapi.Item, error)
	SuggestItems(ctx context.Context, dr inventoryapi.DateRange, excludeItemID int) ([]inventoryapi.Item, error)
}

// GatewayFactory binds a gateway to one user's tokens
type GatewayFactory func(tokens inventoryapi.TokenSource) Gateway

// AttemptRecorder persists preflight and submission outcomes
type AttemptRecorder interface {
	Log(ctx context.Context, attempt *models.ReservationAttempt) error
	ListByFlow(ctx context.Context, flowID uuid.UUID) ([]*models.ReservationAttempt, error)
}

// Credentials identify the caller of a flow operation
type Credentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Platform     string
}

// FlowDetails are the request details entered on the details and summary screens
type FlowDetails struct {
	PriorityTier   models.PriorityTier `json:"priority"`
	PriorityDetail string              `json:"priority_detail"`
	OtherReason    string              `json:"other_reason,omitempty"`
	Contact        string              `json:"contact"`
	TermsAccepted  bool                `json:"terms_accepted"`
}

// DetailsInput is a partial update of FlowDetails; nil fields are left alone
type DetailsInput struct {
	PriorityDetail *string `json:"priority_detail"`
	OtherReason    *string `json:"other_reason"`
	Contact        *string `json:"contact"`
	TermsAccepted  *bool   `json:"terms_accepted"`
}

// BookingFlowConfig holds flow settings
type BookingFlowConfig struct {
	IdleTTL             time.Duration
	AllowDuplicateItems bool
	MaxDocumentBytes    int
	AttemptLogTimeout   time.Duration
}

// DefaultBookingFlowConfig returns default configuration
func DefaultBookingFlowConfig() BookingFlowConfig {
	return BookingFlowConfig{
		IdleTTL:             30 * time.Minute,
		AllowDuplicateItems: true,
		MaxDocumentBytes:    5 << 20,
		AttemptLogTimeout:   3 * time.Second,
	}
}

// Flow is one user's booking session for one primary item. All fields below
// mu are guarded by it; network calls never run while it is held.
type Flow struct {
	ID        uuid.UUID
	UserID    string
	Platform  string
	CreatedAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	tokens  *inventoryapi.RefreshingTokenSource
	gateway Gateway

	mu            sync.Mutex
	step          FlowStep
	closed        bool
	pending       bool
	generation    uint64
	calendarEpoch uint64
	lastActive    time.Time
	item          models.InventoryItem
	calendar      *CalendarModel
	basket        *ReservationBasket
	details       FlowDetails
	letter        *models.Document
	validID       *models.Document
	suggestions   []models.InventoryItem
	preflight     *PreflightResult
	draft         *models.ReservationDraft
	negotiation   *Negotiation
	reservation   *models.Reservation
}

// LastActive returns when the flow was last touched
func (f *Flow) LastActive() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActive
}

// callContext derives a context for one gateway call that is also cancelled
// when the flow is torn down.
func (f *Flow) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(f.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// FlowView is a read-only snapshot of a flow
type FlowView struct {
	ID          uuid.UUID                                `json:"id"`
	Step        FlowStep                                 `json:"step"`
	Item        models.InventoryItem                     `json:"item"`
	Basket      []models.BasketEntry                     `json:"basket"`
	Range       models.DateRange                         `json:"range"`
	Calendar    CalendarState                            `json:"calendar_state"`
	Details     FlowDetails                              `json:"details"`
	Documents   map[models.DocumentKind]*models.Document `json:"documents"`
	Preflight   *PreflightResult                         `json:"preflight,omitempty"`
	Negotiation *Negotiation                             `json:"negotiation,omitempty"`
	Reservation *models.Reservation                      `json:"reservation,omitempty"`
	Pending     bool                                     `json:"pending"`
	CreatedAt   time.Time                                `json:"created_at"`
	LastActive  time.Time                                `json:"last_active"`
}

// CalendarView is the availability calendar of a flow
type CalendarView struct {
	ItemID   int                        `json:"item_id"`
	State    CalendarState              `json:"state"`
	MinDate  string                     `json:"min_date"`
	Entries  []models.AvailabilityEntry `json:"entries"`
	Marks    map[string]DateMark        `json:"marks"`
	Range    models.DateRange           `json:"range"`
	Selected *SelectedDate              `json:"selected,omitempty"`
}

// BookingFlowService owns booking flows and wires the calendar, basket,
// preflight, submission and negotiation steps together.
type BookingFlowService struct {
	store      *FlowStore
	gateways   GatewayFactory
	refresh    inventoryapi.RefreshFunc
	preflight  *PreflightChecker
	submitter  *ReservationSubmissionAssembler
	negotiator *SuggestionNegotiator
	attempts   AttemptRecorder
	contacts   *validator.ContactValidator
	config     BookingFlowConfig
	now        func() time.Time
	logger     *logrus.Logger
}

// NewBookingFlowService creates a new booking flow service
func NewBookingFlowService(
	store *FlowStore,
	gateways GatewayFactory,
	refresh inventoryapi.RefreshFunc,
	preflight *PreflightChecker,
	submitter *ReservationSubmissionAssembler,
	negotiator *SuggestionNegotiator,
	attempts AttemptRecorder,
	config BookingFlowConfig,
	logger *logrus.Logger,
) *BookingFlowService {
	return &BookingFlowService{
		store:      store,
		gateways:   gateways,
		refresh:    refresh,
		preflight:  preflight,
		submitter:  submitter,
		negotiator: negotiator,
		attempts:   attempts,
		contacts:   validator.NewContactValidator(),
		config:     config,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock replaces the time source
func (s *BookingFlowService) SetClock(now func() time.Time) {
	s.now = now
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start opens a booking flow for one primary item
func (s *BookingFlowService) Start(ctx context.Context, creds Credentials, itemID int) (*FlowView, error) {
	tokens := inventoryapi.NewRefreshingTokenSource(creds.AccessToken, creds.RefreshToken, s.refresh)
	gw := s.gateways(tokens)

	raw, err := gw.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, inventoryapi.ErrItemNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, gatewayError("load item", err)
	}
	item := toInventoryItem(*raw)

	flowCtx, cancel := context.WithCancel(context.Background())
	now := s.now()
	f := &Flow{
		ID:         uuid.New(),
		UserID:     creds.UserID,
		Platform:   creds.Platform,
		CreatedAt:  now,
		ctx:        flowCtx,
		cancel:     cancel,
		tokens:     tokens,
		gateway:    gw,
		step:       StepDetails,
		lastActive: now,
		item:       item,
		calendar:   NewCalendarModel(s.clock),
		basket:     NewReservationBasket(item, BasketOptions{AllowDuplicates: s.config.AllowDuplicateItems}),
		details:    FlowDetails{PriorityTier: models.PriorityLow},
	}

	s.store.Put(f)
	metrics.ActiveFlows.Set(float64(s.store.Len()))

	s.logger.WithFields(logrus.Fields{
		"flow_id":  f.ID,
		"user_id":  creds.UserID,
		"item_id":  item.ID,
		"platform": creds.Platform,
	}).Info("Booking flow started")

	f.mu.Lock()
	defer f.mu.Unlock()
	return s.view(f), nil
}

// Get returns the current state of a flow, including closed ones not yet swept
func (s *BookingFlowService) Get(ctx context.Context, creds Credentials, flowID uuid.UUID) (*FlowView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActive = s.now()
	return s.view(f), nil
}

// Attempts returns the recorded preflight and submission outcomes of a flow
func (s *BookingFlowService) Attempts(ctx context.Context, creds Credentials, flowID uuid.UUID) ([]*models.ReservationAttempt, error) {
	if _, err := s.lookup(creds, flowID); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, ErrHistoryUnavailable
	}
	attempts, err := s.attempts.ListByFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// Abandon tears a flow down and cancels its in-flight calls
func (s *BookingFlowService) Abandon(ctx context.Context, creds Credentials, flowID uuid.UUID) error {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if !f.closed {
		s.close(f, StepAbandoned)
	}
	f.mu.Unlock()

	s.store.Delete(f.ID)
	metrics.ActiveFlows.Set(float64(s.store.Len()))
	s.logger.WithField("flow_id", f.ID).Info("Booking flow abandoned")
	return nil
}

// Sweep removes flows idle for longer than the configured TTL
func (s *BookingFlowService) Sweep(now time.Time) int {
	removed := 0
	cutoff := now.Add(-s.config.IdleTTL)
	for _, f := range s.store.Idle(now, s.config.IdleTTL) {
		if s.expire(f, cutoff) {
			removed++
		}
	}
	if removed > 0 {
		metrics.FlowsExpired.Add(float64(removed))
		s.logger.WithField("count", removed).Info("Expired idle booking flows")
	}
	metrics.ActiveFlows.Set(float64(s.store.Len()))
	return removed
}

// expire closes and drops f unless it was touched after cutoff
func (s *BookingFlowService) expire(f *Flow, cutoff time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.lastActive.Before(cutoff) {
		return false
	}
	if !f.closed {
		s.close(f, StepAbandoned)
	}
	return s.store.Delete(f.ID)
}

// RefreshedAccessToken returns the flow's access token when it differs from
// the one the caller presented.
func (s *BookingFlowService) RefreshedAccessToken(creds Credentials, flowID uuid.UUID) (string, bool) {
	f, ok := s.store.Get(flowID)
	if !ok || f.UserID != creds.UserID {
		return "", false
	}
	current := f.tokens.Current()
	return current, current != "" && current != creds.AccessToken
}

// ============================================================================
// CALENDAR
// ============================================================================

// OpenCalendar fetches the availability map of the primary item and ingests it
func (s *BookingFlowService) OpenCalendar(ctx context.Context, creds Credentials, flowID uuid.UUID) (*CalendarView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}

	var epoch uint64
	var itemID int
	if err := s.locked(f, func() error {
		if err := requireEditable(f); err != nil {
			return err
		}
		epoch = f.calendarEpoch
		itemID = f.item.ID
		return nil
	}); err != nil {
		return nil, err
	}

	callCtx, done := f.callContext(ctx)
	raw := f.gateway.FetchAvailabilityMap(callCtx, itemID)
	done()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFlowClosed
	}
	if f.calendarEpoch != epoch {
		return nil, ErrStaleResponse
	}
	f.calendar.Ingest(toAvailabilityEntries(raw))
	f.calendarEpoch++
	return s.calendarView(f, nil), nil
}

// SelectDate applies a calendar tap. When the map has no quantity for the
// date, the single-date endpoint is asked; if that fails too the tap is dropped.
func (s *BookingFlowService) SelectDate(ctx context.Context, creds Credentials, flowID uuid.UUID, date string, role DateRole) (*CalendarView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}

	var (
		epoch     uint64
		itemID    int
		available *int
	)
	if err := s.locked(f, func() error {
		if err := requireEditable(f); err != nil {
			return err
		}
		if err := f.calendar.CanSelect(date, role); err != nil {
			return err
		}
		if qty, ok := f.calendar.AvailableQtyFor(date); ok {
			available = &qty
		}
		epoch = f.calendarEpoch
		itemID = f.item.ID
		return nil
	}); err != nil {
		return nil, err
	}

	if available == nil {
		callCtx, done := f.callContext(ctx)
		available = f.gateway.FetchAvailabilityForDate(callCtx, itemID, date)
		done()
		if available == nil {
			return nil, &TransportError{Op: "fetch availability", Err: errors.New("availability for the selected date could not be loaded")}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFlowClosed
	}
	if f.calendarEpoch != epoch {
		return nil, ErrStaleResponse
	}

	if err := f.calendar.CanSelect(date, role); err != nil {
		return nil, err
	}
	// A quantity already entered must fit the tapped day
	primary := f.basket.Primary()
	if primary.RequestedQty != nil {
		if err := checkHint(*primary.RequestedQty, available); err != nil {
			return nil, err
		}
	}

	selected, err := f.calendar.Select(date, role, available)
	if err != nil {
		return nil, err
	}
	if err := f.basket.UpdateHint(primary.EntryID, available); err != nil {
		return nil, err
	}
	s.invalidate(f)
	return s.calendarView(f, &selected), nil
}

// ============================================================================
// BASKET
// ============================================================================

// SetPrimaryQty sets the quantity of the primary item
func (s *BookingFlowService) SetPrimaryQty(ctx context.Context, creds Credentials, flowID uuid.UUID, qty string) (*FlowView, error) {
	return s.mutate(creds, flowID, func(f *Flow) error {
		return f.basket.SetQty(f.basket.Primary().EntryID, qty)
	})
}

// SuggestItems asks the backend for items free over the chosen range
func (s *BookingFlowService) SuggestItems(ctx context.Context, creds Credentials, flowID uuid.UUID) ([]models.InventoryItem, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}

	var (
		gen    uint64
		dr     models.DateRange
		itemID int
	)
	if err := s.locked(f, func() error {
		if err := requireEditable(f); err != nil {
			return err
		}
		dr = f.calendar.Selection()
		if !dr.IsComplete() {
			return newValidationError("range", "Select Dates First", "Borrow and return dates are required.", nil)
		}
		gen = f.generation
		itemID = f.item.ID
		return nil
	}); err != nil {
		return nil, err
	}

	callCtx, done := f.callContext(ctx)
	raw, err := f.gateway.SuggestItems(callCtx, inventoryapi.DateRange{Start: dr.Start, End: dr.End}, itemID)
	done()
	if err != nil {
		s.logger.WithError(err).WithField("flow_id", f.ID).Warn("Failed to load suggestions")
		return nil, gatewayError("suggest items", err)
	}

	items := make([]models.InventoryItem, 0, len(raw))
	for _, it := range raw {
		items = append(items, toInventoryItem(it))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFlowClosed
	}
	if f.generation != gen {
		return nil, ErrStaleResponse
	}
	f.suggestions = items
	return items, nil
}

// AddItem adds one of the last suggested items as a supplementary entry
func (s *BookingFlowService) AddItem(ctx context.Context, creds Credentials, flowID uuid.UUID, itemID int) (*FlowView, error) {
	return s.mutate(creds, flowID, func(f *Flow) error {
		for _, item := range f.suggestions {
			if item.ID == itemID {
				_, err := f.basket.AddSupplementary(item)
				return err
			}
		}
		return ErrItemNotSuggested
	})
}

// SetItemQty sets the quantity of exactly one basket entry
func (s *BookingFlowService) SetItemQty(ctx context.Context, creds Credentials, flowID, entryID uuid.UUID, qty string) (*FlowView, error) {
	return s.mutate(creds, flowID, func(f *Flow) error {
		return f.basket.SetQty(entryID, qty)
	})
}

// RemoveItem removes exactly one supplementary entry
func (s *BookingFlowService) RemoveItem(ctx context.Context, creds Credentials, flowID, entryID uuid.UUID) (*FlowView, error) {
	return s.mutate(creds, flowID, func(f *Flow) error {
		return f.basket.Remove(entryID)
	})
}

// ============================================================================
// DETAILS & DOCUMENTS
// ============================================================================

// SetDetails updates priority, reason, contact and terms acceptance. It does
// not invalidate a passed preflight.
func (s *BookingFlowService) SetDetails(ctx context.Context, creds Credentials, flowID uuid.UUID, in DetailsInput) (*FlowView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := requireEditable(f); err != nil {
		return nil, err
	}

	details := f.details
	if in.PriorityDetail != nil {
		tier, ok := models.TierFor(*in.PriorityDetail)
		if !ok {
			return nil, newValidationError("priority_detail", "Invalid Priority", "Choose one of the listed reasons.", nil)
		}
		details.PriorityTier = tier
		details.PriorityDetail = *in.PriorityDetail
	}
	if in.OtherReason != nil {
		details.OtherReason = strings.TrimSpace(*in.OtherReason)
	}
	if in.Contact != nil {
		contact := strings.TrimSpace(*in.Contact)
		if contact != "" {
			sanitized, err := s.contacts.Validate(contact)
			if err != nil {
				return nil, newValidationError("contact", "Invalid Contact Number", "Enter an 11-digit mobile number starting with 09.", err)
			}
			contact = sanitized
		}
		details.Contact = contact
	}
	if in.TermsAccepted != nil {
		details.TermsAccepted = *in.TermsAccepted
	}

	f.details = details
	f.generation++
	f.draft = nil
	f.lastActive = s.now()
	return s.view(f), nil
}

// AttachDocument stores the request letter or the valid ID image
func (s *BookingFlowService) AttachDocument(ctx context.Context, creds Credentials, flowID uuid.UUID, kind models.DocumentKind, fileName string, data []byte) (*FlowView, error) {
	if len(data) == 0 {
		return nil, newValidationError("file", "Missing File", "Please choose a photo to upload.", nil)
	}
	if s.config.MaxDocumentBytes > 0 && len(data) > s.config.MaxDocumentBytes {
		return nil, newValidationError("file", "File Too Large", "Please upload a smaller photo.", nil)
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, newValidationError("file", "Invalid File", "Please upload a photo.", nil)
	}

	doc := &models.Document{
		Kind:        kind,
		FileName:    fileName,
		ContentType: mime.String(),
		Data:        data,
		Size:        len(data),
	}

	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := requireEditable(f); err != nil {
		return nil, err
	}

	switch kind {
	case models.DocumentLetter:
		f.letter = doc
	case models.DocumentValidID:
		f.validID = doc
	}
	f.generation++
	f.draft = nil
	f.lastActive = s.now()
	return s.view(f), nil
}

// ============================================================================
// PREFLIGHT
// ============================================================================

// Preflight checks the primary item over the chosen range. On success the
// flow moves to the summary step.
func (s *BookingFlowService) Preflight(ctx context.Context, creds Credentials, flowID uuid.UUID) (*PreflightResult, *FlowView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, nil, err
	}

	var (
		gen     uint64
		primary models.BasketEntry
		qty     string
		dr      models.DateRange
	)
	if err := s.locked(f, func() error {
		if err := requireEditable(f); err != nil {
			return err
		}
		if f.pending {
			return ErrRequestInFlight
		}
		if f.letter == nil {
			return newValidationError("letter", "Request Letter Required", "Please upload your Request letter.", nil)
		}
		if f.validID == nil {
			return newValidationError("valid_id", "Valid ID Required", "Please upload your valid ID.", nil)
		}
		primary = f.basket.Primary()
		if primary.RequestedQty != nil {
			if err := checkHint(*primary.RequestedQty, primary.AvailableQtyHint); err != nil {
				return err
			}
			qty = strconv.Itoa(*primary.RequestedQty)
		}
		dr = f.calendar.Selection()
		gen = f.generation
		f.pending = true
		return nil
	}); err != nil {
		return nil, nil, err
	}

	callCtx, done := f.callContext(ctx)
	result := s.preflight.Run(callCtx, f.gateway, primary, qty, dr)
	done()

	metrics.PreflightOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	if result.Outcome != PreflightMissingDates && result.Outcome != PreflightMissingQuantity {
		s.recordPreflight(ctx, f, primary, dr, result)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if f.closed {
		return nil, nil, ErrFlowClosed
	}
	if errors.Is(result.Err, inventoryapi.ErrSessionExpired) {
		return nil, nil, result.Err
	}
	if f.generation != gen {
		return nil, nil, ErrStaleResponse
	}

	f.preflight = &result
	if result.Outcome == PreflightProceed {
		f.step = StepSummary
	}
	f.lastActive = s.now()
	return &result, s.view(f), nil
}

// ============================================================================
// SUBMISSION & NEGOTIATION
// ============================================================================

// Submit posts the reservation. A 409 moves the flow into negotiation; a
// success completes and closes the flow.
func (s *BookingFlowService) Submit(ctx context.Context, creds Credentials, flowID uuid.UUID) (*SubmissionResult, *FlowView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, nil, err
	}

	var (
		gen   uint64
		draft models.ReservationDraft
	)
	if err := s.locked(f, func() error {
		if f.closed {
			return ErrFlowClosed
		}
		if f.pending {
			return ErrRequestInFlight
		}
		if f.step != StepSummary {
			return ErrInvalidStep
		}
		if f.draft == nil {
			d, err := s.buildDraft(f)
			if err != nil {
				return err
			}
			f.draft = &d
		}
		draft = *f.draft
		gen = f.generation
		f.pending = true
		return nil
	}); err != nil {
		return nil, nil, err
	}

	callCtx, done := f.callContext(ctx)
	result, err := s.submitter.Submit(callCtx, f.gateway, draft)
	done()

	if err == nil {
		metrics.SubmissionOutcomes.WithLabelValues(string(result.Status)).Inc()
		s.recordSubmission(ctx, f, draft, result)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if err != nil {
		return nil, nil, err
	}
	f.lastActive = s.now()

	switch result.Status {
	case SubmissionCreated:
		f.reservation = result.Reservation
		f.basket.Clear()
		f.draft = nil
		f.preflight = nil
		if !f.closed {
			s.close(f, StepCompleted)
		}
		f.step = StepCompleted
		return &result, s.view(f), nil
	}

	if f.closed {
		return nil, nil, ErrFlowClosed
	}
	if f.generation != gen {
		return nil, nil, ErrStaleResponse
	}

	if result.Status == SubmissionConflict {
		neg := s.negotiator.Open(draft, *result.Conflict)
		f.negotiation = &neg
		f.draft = nil
		f.preflight = nil
		f.step = StepNegotiating
		f.generation++
	}
	return &result, s.view(f), nil
}

// Negotiate applies the user's answer to a submission conflict
func (s *BookingFlowService) Negotiate(ctx context.Context, creds Credentials, flowID uuid.UUID, action NegotiationAction) (*FlowView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFlowClosed
	}
	if f.step != StepNegotiating || f.negotiation == nil {
		f.mu.Unlock()
		return nil, ErrInvalidStep
	}

	resolution, err := s.negotiator.Resolve(*f.negotiation, action)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	metrics.NegotiationActions.WithLabelValues(string(action)).Inc()

	log := s.logger.WithFields(logrus.Fields{"flow_id": f.ID, "action": action})
	f.negotiation = nil
	f.lastActive = s.now()

	switch resolution.Step {
	case StepSummary:
		f.draft = resolution.Draft
		f.calendar.SetRange(resolution.Draft.Range)
		f.generation++
		f.step = StepSummary
		log.WithField("range", resolution.Draft.Range).Info("Accepted suggested range")
	case StepDetails:
		f.calendar.Reset()
		f.calendarEpoch++
		s.invalidate(f)
		f.step = StepDetails
		log.Info("Returned to item details to pick other dates")
	case StepAbandoned:
		s.close(f, StepAbandoned)
		log.Info("Declined suggested range")
	}

	view := s.view(f)
	f.mu.Unlock()

	if resolution.Step == StepAbandoned {
		s.store.Delete(f.ID)
		metrics.ActiveFlows.Set(float64(s.store.Len()))
	}
	return view, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *BookingFlowService) clock() time.Time {
	return s.now()
}

func (s *BookingFlowService) lookup(creds Credentials, flowID uuid.UUID) (*Flow, error) {
	f, ok := s.store.Get(flowID)
	if !ok || f.UserID != creds.UserID {
		return nil, ErrFlowNotFound
	}
	f.tokens.Update(creds.AccessToken, creds.RefreshToken)
	return f, nil
}

func (s *BookingFlowService) locked(f *Flow, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActive = s.now()
	return fn()
}

// mutate runs a local edit that invalidates any passed preflight
func (s *BookingFlowService) mutate(creds Credentials, flowID uuid.UUID, fn func(f *Flow) error) (*FlowView, error) {
	f, err := s.lookup(creds, flowID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := requireEditable(f); err != nil {
		return nil, err
	}
	f.lastActive = s.now()
	if err := fn(f); err != nil {
		return nil, err
	}
	s.invalidate(f)
	return s.view(f), nil
}

func requireEditable(f *Flow) error {
	if f.closed {
		return ErrFlowClosed
	}
	if f.step != StepDetails && f.step != StepSummary {
		return ErrInvalidStep
	}
	return nil
}

// invalidate drops results computed from the old inputs; in-flight responses
// for them become stale.
func (s *BookingFlowService) invalidate(f *Flow) {
	f.generation++
	f.preflight = nil
	f.draft = nil
	if f.step == StepSummary {
		f.step = StepDetails
	}
}

// close must be called with f.mu held
func (s *BookingFlowService) close(f *Flow, step FlowStep) {
	f.step = step
	f.closed = true
	f.generation++
	f.cancel()
}

func (s *BookingFlowService) buildDraft(f *Flow) (models.ReservationDraft, error) {
	d := f.details
	message := d.PriorityDetail
	if d.PriorityDetail == models.DetailOthers {
		if d.OtherReason == "" {
			return models.ReservationDraft{}, newValidationError("other_reason", "Reason Required", "Please tell us the reason for your request.", nil)
		}
		message = d.OtherReason
	}

	return models.ReservationDraft{
		ID:             uuid.New(),
		Primary:        f.basket.Primary(),
		Supplementary:  f.basket.Supplementary(),
		Range:          f.calendar.Selection(),
		PriorityTier:   d.PriorityTier,
		PriorityDetail: d.PriorityDetail,
		Message:        message,
		Contact:        d.Contact,
		Letter:         f.letter,
		ValidID:        f.validID,
		TermsAccepted:  d.TermsAccepted,
	}, nil
}

// view must be called with f.mu held
func (s *BookingFlowService) view(f *Flow) *FlowView {
	docs := map[models.DocumentKind]*models.Document{}
	if f.letter != nil {
		docs[models.DocumentLetter] = f.letter
	}
	if f.validID != nil {
		docs[models.DocumentValidID] = f.validID
	}

	v := &FlowView{
		ID:          f.ID,
		Step:        f.step,
		Item:        f.item,
		Basket:      f.basket.Snapshot(),
		Range:       f.calendar.Selection(),
		Calendar:    f.calendar.State(),
		Details:     f.details,
		Documents:   docs,
		Preflight:   f.preflight,
		Negotiation: f.negotiation,
		Reservation: f.reservation,
		Pending:     f.pending,
		CreatedAt:   f.CreatedAt,
		LastActive:  f.lastActive,
	}
	return v
}

func (s *BookingFlowService) calendarView(f *Flow, selected *SelectedDate) *CalendarView {
	return &CalendarView{
		ItemID:   f.item.ID,
		State:    f.calendar.State(),
		MinDate:  f.calendar.MinDate(),
		Entries:  f.calendar.Entries(),
		Marks:    f.calendar.Marks(),
		Range:    f.calendar.Selection(),
		Selected: selected,
	}
}

func (s *BookingFlowService) recordPreflight(ctx context.Context, f *Flow, primary models.BasketEntry, dr models.DateRange, result PreflightResult) {
	attempt := s.newAttempt(f, models.AttemptPreflight, primary, nil, dr)
	attempt.Outcome = string(result.Outcome)
	if result.StatusCode != 0 {
		status := result.StatusCode
		attempt.HTTPStatus = &status
	}
	if result.Message != "" {
		msg := result.Message
		attempt.Message = &msg
	}
	s.logAttempt(ctx, attempt)
}

func (s *BookingFlowService) recordSubmission(ctx context.Context, f *Flow, draft models.ReservationDraft, result SubmissionResult) {
	attempt := s.newAttempt(f, models.AttemptSubmission, draft.Primary, draft.Supplementary, draft.Range)
	attempt.Outcome = string(result.Status)
	if result.StatusCode != 0 {
		status := result.StatusCode
		attempt.HTTPStatus = &status
	}
	if result.Reservation != nil {
		tx := result.Reservation.TransactionID
		attempt.TransactionID = &tx
	}
	if result.Status == SubmissionFailed {
		msg := result.Message
		attempt.Message = &msg
	}
	s.logAttempt(ctx, attempt)
}

func (s *BookingFlowService) newAttempt(f *Flow, kind models.AttemptKind, primary models.BasketEntry, added []models.BasketEntry, dr models.DateRange) *models.ReservationAttempt {
	attempt := &models.ReservationAttempt{
		ID:         uuid.New(),
		FlowID:     f.ID,
		UserID:     f.UserID,
		Kind:       kind,
		MainItemID: primary.ItemID,
		AddedItems: models.AttemptItems{},
		StartDate:  dr.Start,
		EndDate:    dr.End,
		Platform:   f.Platform,
		CreatedAt:  s.now(),
	}
	if primary.RequestedQty != nil {
		attempt.MainItemQty = *primary.RequestedQty
	}
	for _, e := range added {
		qty := "0"
		if e.RequestedQty != nil {
			qty = strconv.Itoa(*e.RequestedQty)
		}
		attempt.AddedItems = append(attempt.AddedItems, models.AttemptItem{ItemID: e.ItemID, Qty: qty})
	}
	return attempt
}

func (s *BookingFlowService) logAttempt(ctx context.Context, attempt *models.ReservationAttempt) {
	if s.attempts == nil {
		return
	}
	timeout := s.config.AttemptLogTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.attempts.Log(logCtx, attempt); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"flow_id": attempt.FlowID,
			"kind":    attempt.Kind,
		}).Warn("Failed to record reservation attempt")
	}
}

// gatewayError classifies a gateway failure. Session expiry is passed through
// unchanged so handlers can answer 401.
func gatewayError(op string, err error) error {
	if errors.Is(err, inventoryapi.ErrSessionExpired) {
		return err
	}
	var statusErr *inventoryapi.StatusError
	if errors.As(err, &statusErr) {
		return &ServerError{StatusCode: statusErr.StatusCode, Message: statusErr.Message}
	}
	return &TransportError{Op: op, Err: err}
}

func toInventoryItem(it inventoryapi.Item) models.InventoryItem {
	return models.InventoryItem{
		ID:               int(it.ItemID),
		Name:             it.Name,
		Image:            it.Image,
		Owner:            it.Owner,
		Description:      it.Description,
		AvailableQtyHint: it.AvailableQty.IntPtr(),
	}
}

func toAvailabilityEntries(raw map[string]inventoryapi.CalendarDay) []models.AvailabilityEntry {
	entries := make([]models.AvailabilityEntry, 0, len(raw))
	for date, day := range raw {
		entries = append(entries, models.AvailabilityEntry{
			Date:         date,
			Status:       models.ClassifyStatus(day.Status),
			AvailableQty: day.AvailableQty.IntPtr(),
		})
	}
	return entries
}
