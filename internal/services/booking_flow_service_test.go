package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traillend/reservation-flow/internal/models"
	"github.com/traillend/reservation-flow/pkg/inventoryapi"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

var testCreds = Credentials{UserID: "42", AccessToken: "access-1", RefreshToken: "refresh-1", Platform: "android"}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []*models.ReservationAttempt
}

func (r *fakeRecorder) Log(_ context.Context, a *models.ReservationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *fakeRecorder) ListByFlow(_ context.Context, flowID uuid.UUID) ([]*models.ReservationAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReservationAttempt
	for _, a := range r.attempts {
		if a.FlowID == flowID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRecorder) all() []*models.ReservationAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.ReservationAttempt(nil), r.attempts...)
}

type flowFixture struct {
	svc      *BookingFlowService
	gw       *fakeGateway
	recorder *fakeRecorder
	clock    *testClock
}

func setupBookingFlowTest(t *testing.T) *flowFixture {
	t.Helper()
	gw := newFakeGateway()
	gw.calendar = map[string]inventoryapi.CalendarDay{
		"2024-05-02": {Status: "available", AvailableQty: flex(4)},
		"2024-05-03": {Status: inventoryapi.StatusFullyReserved, AvailableQty: flex(0)},
		"2024-05-04": {Status: "partially_reserved"},
	}
	gw.dateQty["2024-05-04"] = 3
	gw.suggestions = []inventoryapi.Item{
		{ItemID: 2, Name: "Chair", AvailableQty: flex(20)},
		{ItemID: 3, Name: "Table"},
	}

	logger := newTestLogger()
	recorder := &fakeRecorder{}
	clock := &testClock{now: fixedClock()}
	refresh := func(ctx context.Context, refresh string) (string, error) { return "access-2", nil }

	svc := NewBookingFlowService(
		NewFlowStore(),
		func(inventoryapi.TokenSource) Gateway { return gw },
		refresh,
		NewPreflightChecker(logger),
		NewReservationSubmissionAssembler(NewMemorySubmissionGuard(), logger),
		NewSuggestionNegotiator(logger),
		recorder,
		DefaultBookingFlowConfig(),
		logger,
	)
	svc.SetClock(clock.Now)

	return &flowFixture{svc: svc, gw: gw, recorder: recorder, clock: clock}
}

// readyForPreflight walks a new flow through dates, quantity, documents and details
func (fx *flowFixture) readyForPreflight(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	view, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)
	id := view.ID

	_, err = fx.svc.OpenCalendar(ctx, testCreds, id)
	require.NoError(t, err)
	_, err = fx.svc.SelectDate(ctx, testCreds, id, "2024-05-02", RoleBorrow)
	require.NoError(t, err)
	_, err = fx.svc.SelectDate(ctx, testCreds, id, "2024-05-04", RoleReturn)
	require.NoError(t, err)
	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "2")
	require.NoError(t, err)
	_, err = fx.svc.AttachDocument(ctx, testCreds, id, models.DocumentLetter, "letter.png", pngBytes)
	require.NoError(t, err)
	_, err = fx.svc.AttachDocument(ctx, testCreds, id, models.DocumentValidID, "id.png", pngBytes)
	require.NoError(t, err)

	detail := models.DetailFuneral
	contact := "09171234567"
	terms := true
	_, err = fx.svc.SetDetails(ctx, testCreds, id, DetailsInput{PriorityDetail: &detail, Contact: &contact, TermsAccepted: &terms})
	require.NoError(t, err)
	return id
}

func (fx *flowFixture) readyForSubmit(t *testing.T) uuid.UUID {
	t.Helper()
	id := fx.readyForPreflight(t)
	result, view, err := fx.svc.Preflight(context.Background(), testCreds, id)
	require.NoError(t, err)
	require.Equal(t, PreflightProceed, result.Outcome)
	require.Equal(t, StepSummary, view.Step)
	return id
}

func TestBookingFlow_StartUnknownItem(t *testing.T) {
	fx := setupBookingFlowTest(t)

	_, err := fx.svc.Start(context.Background(), testCreds, 999)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestBookingFlow_StartSeedsPrimaryEntry(t *testing.T) {
	fx := setupBookingFlowTest(t)

	view, err := fx.svc.Start(context.Background(), testCreds, 1)
	require.NoError(t, err)

	assert.Equal(t, StepDetails, view.Step)
	assert.Equal(t, CalendarEmpty, view.Calendar)
	require.Len(t, view.Basket, 1)
	assert.True(t, view.Basket[0].Primary)
	assert.Equal(t, "Tent", view.Basket[0].Name)
	assert.Nil(t, view.Basket[0].RequestedQty)
	assert.Equal(t, models.PriorityLow, view.Details.PriorityTier)
}

func TestBookingFlow_FlowsAreScopedToTheirUser(t *testing.T) {
	fx := setupBookingFlowTest(t)
	view, err := fx.svc.Start(context.Background(), testCreds, 1)
	require.NoError(t, err)

	other := Credentials{UserID: "7", AccessToken: "other"}
	_, err = fx.svc.Get(context.Background(), other, view.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = fx.svc.Get(context.Background(), testCreds, uuid.New())
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestBookingFlow_SelectDate(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	view, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)

	_, err = fx.svc.SelectDate(ctx, testCreds, view.ID, "2024-05-02", RoleBorrow)
	assert.ErrorIs(t, err, ErrCalendarNotLoaded)

	cal, err := fx.svc.OpenCalendar(ctx, testCreds, view.ID)
	require.NoError(t, err)
	assert.Equal(t, CalendarMapLoaded, cal.State)
	assert.Equal(t, "2024-05-01", cal.MinDate)
	assert.Equal(t, MarkFullyReserved, cal.Marks["2024-05-03"])
	assert.Equal(t, MarkAvailable, cal.Marks["2024-05-04"])

	_, err = fx.svc.SelectDate(ctx, testCreds, view.ID, "2024-05-03", RoleBorrow)
	assert.ErrorIs(t, err, ErrDateFullyReserved)

	cal, err = fx.svc.SelectDate(ctx, testCreds, view.ID, "2024-05-02", RoleBorrow)
	require.NoError(t, err)
	require.NotNil(t, cal.Selected)
	assert.Equal(t, 4, *cal.Selected.AvailableQty)
	assert.Equal(t, 0, fx.gw.dateFetches)

	cal, err = fx.svc.SelectDate(ctx, testCreds, view.ID, "2024-05-04", RoleReturn)
	require.NoError(t, err)
	assert.Equal(t, 3, *cal.Selected.AvailableQty)
	assert.Equal(t, 1, fx.gw.dateFetches)
	assert.Equal(t, CalendarRangeComplete, cal.State)
	assert.Equal(t, MarkSelectedReturn, cal.Marks["2024-05-04"])

	got, err := fx.svc.Get(ctx, testCreds, view.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Basket[0].AvailableQtyHint)
	assert.Equal(t, 3, *got.Basket[0].AvailableQtyHint)
}

func TestBookingFlow_SelectDateFetchFailureDropsTap(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	view, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)
	_, err = fx.svc.OpenCalendar(ctx, testCreds, view.ID)
	require.NoError(t, err)

	_, err = fx.svc.SelectDate(ctx, testCreds, view.ID, "2024-06-01", RoleBorrow)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)

	got, err := fx.svc.Get(ctx, testCreds, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DateRange{}, got.Range)
}

func TestBookingFlow_SelectDateRejectsQuantityAboveDay(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	view, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)
	id := view.ID
	_, err = fx.svc.OpenCalendar(ctx, testCreds, id)
	require.NoError(t, err)
	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "5")
	require.NoError(t, err)

	_, err = fx.svc.SelectDate(ctx, testCreds, id, "2024-05-02", RoleBorrow)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.ErrorIs(t, err, ErrQuantityExceedsAvailable)
	assert.Equal(t, "Quantity exceeds available items.", validationErr.Message)

	got, err := fx.svc.Get(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, models.DateRange{}, got.Range)
	require.NotNil(t, got.Basket[0].AvailableQtyHint)
	assert.Equal(t, 5, *got.Basket[0].AvailableQtyHint)

	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "4")
	require.NoError(t, err)
	_, err = fx.svc.SelectDate(ctx, testCreds, id, "2024-05-02", RoleBorrow)
	require.NoError(t, err)

	// the single-date fetch for the return day reports 3
	_, err = fx.svc.SelectDate(ctx, testCreds, id, "2024-05-04", RoleReturn)
	assert.ErrorIs(t, err, ErrQuantityExceedsAvailable)
	got, err = fx.svc.Get(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, models.DateRange{Start: "2024-05-02"}, got.Range)
	assert.Equal(t, 4, *got.Basket[0].AvailableQtyHint)

	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "3")
	require.NoError(t, err)
	_, err = fx.svc.SelectDate(ctx, testCreds, id, "2024-05-04", RoleReturn)
	require.NoError(t, err)
}

func TestBookingFlow_PreflightRejectsQuantityAboveHint(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForPreflight(t)

	f, ok := fx.svc.store.Get(id)
	require.True(t, ok)
	f.mu.Lock()
	require.NoError(t, f.basket.UpdateHint(f.basket.Primary().EntryID, intPtr(1)))
	f.mu.Unlock()

	_, _, err := fx.svc.Preflight(context.Background(), testCreds, id)
	assert.ErrorIs(t, err, ErrQuantityExceedsAvailable)
	assert.Empty(t, fx.gw.rangeCalls)

	got, err := fx.svc.Get(context.Background(), testCreds, id)
	require.NoError(t, err)
	assert.False(t, got.Pending)
	assert.Equal(t, StepDetails, got.Step)
}

func TestBookingFlow_BasketEditing(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForPreflight(t)

	_, err := fx.svc.AddItem(ctx, testCreds, id, 2)
	assert.ErrorIs(t, err, ErrItemNotSuggested)

	items, err := fx.svc.SuggestItems(ctx, testCreds, id)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 20, *items[0].AvailableQtyHint)

	_, err = fx.svc.AddItem(ctx, testCreds, id, 2)
	require.NoError(t, err)
	view, err := fx.svc.AddItem(ctx, testCreds, id, 2)
	require.NoError(t, err)
	require.Len(t, view.Basket, 3)

	first, second := view.Basket[1].EntryID, view.Basket[2].EntryID
	_, err = fx.svc.SetItemQty(ctx, testCreds, id, first, "5")
	require.NoError(t, err)
	view, err = fx.svc.SetItemQty(ctx, testCreds, id, second, "6")
	require.NoError(t, err)
	assert.Equal(t, 5, *view.Basket[1].RequestedQty)
	assert.Equal(t, 6, *view.Basket[2].RequestedQty)

	_, err = fx.svc.SetItemQty(ctx, testCreds, id, first, "21")
	assert.ErrorIs(t, err, ErrQuantityExceedsAvailable)

	_, err = fx.svc.RemoveItem(ctx, testCreds, id, view.Basket[0].EntryID)
	assert.ErrorIs(t, err, ErrPrimaryNotRemovable)

	view, err = fx.svc.RemoveItem(ctx, testCreds, id, first)
	require.NoError(t, err)
	require.Len(t, view.Basket, 2)
	assert.Equal(t, second, view.Basket[1].EntryID)
}

func TestBookingFlow_SuggestItemsRequiresRange(t *testing.T) {
	fx := setupBookingFlowTest(t)
	view, err := fx.svc.Start(context.Background(), testCreds, 1)
	require.NoError(t, err)

	_, err = fx.svc.SuggestItems(context.Background(), testCreds, view.ID)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 0, fx.gw.suggestCalls)
}

func TestBookingFlow_SuggestItemsBackendFailure(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForPreflight(t)
	fx.gw.suggestErr = &inventoryapi.StatusError{Op: "suggest items", StatusCode: 500, Message: "boom"}

	_, err := fx.svc.SuggestItems(context.Background(), testCreds, id)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, 500, serverErr.StatusCode)
}

func TestBookingFlow_AttachDocumentRejectsNonImages(t *testing.T) {
	fx := setupBookingFlowTest(t)
	view, err := fx.svc.Start(context.Background(), testCreds, 1)
	require.NoError(t, err)

	_, err = fx.svc.AttachDocument(context.Background(), testCreds, view.ID, models.DocumentLetter, "letter.txt", []byte("dear sir or madam"))
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = fx.svc.AttachDocument(context.Background(), testCreds, view.ID, models.DocumentLetter, "empty.png", nil)
	assert.ErrorAs(t, err, &validationErr)

	got, err := fx.svc.AttachDocument(context.Background(), testCreds, view.ID, models.DocumentLetter, "letter.png", pngBytes)
	require.NoError(t, err)
	require.Contains(t, got.Documents, models.DocumentLetter)
	assert.Equal(t, "image/png", got.Documents[models.DocumentLetter].ContentType)
}

func TestBookingFlow_PreflightRequiresDocumentsFirst(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	view, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)

	_, _, err = fx.svc.Preflight(ctx, testCreds, view.ID)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "letter", validationErr.Field)

	_, err = fx.svc.AttachDocument(ctx, testCreds, view.ID, models.DocumentLetter, "letter.png", pngBytes)
	require.NoError(t, err)
	_, _, err = fx.svc.Preflight(ctx, testCreds, view.ID)
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "valid_id", validationErr.Field)

	_, err = fx.svc.AttachDocument(ctx, testCreds, view.ID, models.DocumentValidID, "id.png", pngBytes)
	require.NoError(t, err)
	result, got, err := fx.svc.Preflight(ctx, testCreds, view.ID)
	require.NoError(t, err)
	assert.Equal(t, PreflightMissingDates, result.Outcome)
	assert.Equal(t, StepDetails, got.Step)
	assert.Empty(t, fx.gw.rangeCalls)
}

func TestBookingFlow_PreflightConflictStaysOnDetails(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForPreflight(t)
	fx.gw.rangeCheck = inventoryapi.RangeCheck{Status: inventoryapi.RangeConflict, StatusCode: 409, NextAvailableDate: "2024-05-09"}

	result, view, err := fx.svc.Preflight(context.Background(), testCreds, id)
	require.NoError(t, err)

	assert.Equal(t, PreflightConflict, result.Outcome)
	assert.Equal(t, "Next available: 2024-05-09", result.Message)
	assert.Equal(t, StepDetails, view.Step)

	attempts := fx.recorder.all()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptPreflight, attempts[0].Kind)
	assert.Equal(t, "conflict", attempts[0].Outcome)
	assert.Equal(t, "42", attempts[0].UserID)
}

func TestBookingFlow_EditAfterPreflightReturnsToDetails(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForSubmit(t)

	view, err := fx.svc.SetPrimaryQty(context.Background(), testCreds, id, "1")
	require.NoError(t, err)
	assert.Equal(t, StepDetails, view.Step)
	assert.Nil(t, view.Preflight)

	_, _, err = fx.svc.Submit(context.Background(), testCreds, id)
	assert.ErrorIs(t, err, ErrInvalidStep)
	assert.Empty(t, fx.gw.creates())
}

func TestBookingFlow_DetailsEditKeepsSummaryStep(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForSubmit(t)

	contact := "+63 999 888 7777"
	view, err := fx.svc.SetDetails(context.Background(), testCreds, id, DetailsInput{Contact: &contact})
	require.NoError(t, err)
	assert.Equal(t, StepSummary, view.Step)
	assert.Equal(t, "09998887777", view.Details.Contact)

	badContact := "12345"
	_, err = fx.svc.SetDetails(context.Background(), testCreds, id, DetailsInput{Contact: &badContact})
	var contactErr *ValidationError
	require.ErrorAs(t, err, &contactErr)
	assert.Equal(t, "contact", contactErr.Field)

	bad := "Picnic"
	_, err = fx.svc.SetDetails(context.Background(), testCreds, id, DetailsInput{PriorityDetail: &bad})
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestBookingFlow_SubmitCreated(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForSubmit(t)

	result, view, err := fx.svc.Submit(ctx, testCreds, id)
	require.NoError(t, err)

	assert.Equal(t, SubmissionCreated, result.Status)
	assert.Equal(t, StepCompleted, view.Step)
	require.NotNil(t, view.Reservation)
	assert.Equal(t, "TX-1001", view.Reservation.TransactionID)
	assert.Nil(t, view.Basket[0].RequestedQty)

	creates := fx.gw.creates()
	require.Len(t, creates, 1)
	assert.Equal(t, 1, creates[0].MainItemID)
	assert.Equal(t, 2, creates[0].MainItemQty)
	assert.Equal(t, "High", creates[0].Priority)
	assert.Equal(t, "Funeral", creates[0].Message)
	assert.Equal(t, "image/png", creates[0].Letter.ContentType)

	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "1")
	assert.ErrorIs(t, err, ErrFlowClosed)
	_, _, err = fx.svc.Submit(ctx, testCreds, id)
	assert.ErrorIs(t, err, ErrFlowClosed)

	got, err := fx.svc.Get(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, got.Step)

	kinds := []models.AttemptKind{}
	for _, a := range fx.recorder.all() {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []models.AttemptKind{models.AttemptPreflight, models.AttemptSubmission}, kinds)
}

func TestBookingFlow_OthersRequiresReason(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForSubmit(t)

	others := models.DetailOthers
	_, err := fx.svc.SetDetails(ctx, testCreds, id, DetailsInput{PriorityDetail: &others})
	require.NoError(t, err)

	_, _, err = fx.svc.Submit(ctx, testCreds, id)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "other_reason", validationErr.Field)

	reason := "Barangay clean-up drive"
	_, err = fx.svc.SetDetails(ctx, testCreds, id, DetailsInput{OtherReason: &reason})
	require.NoError(t, err)

	result, _, err := fx.svc.Submit(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, SubmissionCreated, result.Status)

	creates := fx.gw.creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "Low", creates[0].Priority)
	assert.Equal(t, "Others", creates[0].PriorityDetail)
	assert.Equal(t, reason, creates[0].Message)
}

func TestBookingFlow_ServerRejectionStaysOnSummary(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForSubmit(t)
	fx.gw.createRes = inventoryapi.CreateReservationResult{Status: inventoryapi.CreateFailed, StatusCode: 400, Message: "Invalid contact number"}

	result, view, err := fx.svc.Submit(context.Background(), testCreds, id)
	require.NoError(t, err)

	assert.Equal(t, SubmissionFailed, result.Status)
	assert.Equal(t, "Invalid contact number", result.Message)
	assert.Equal(t, StepSummary, view.Step)
}

func conflictResult() inventoryapi.CreateReservationResult {
	return inventoryapi.CreateReservationResult{
		Status:           inventoryapi.CreateConflict,
		StatusCode:       409,
		UnavailableItems: []inventoryapi.ItemRef{{ID: 1, Name: "Tent"}},
		SuggestedRanges:  []inventoryapi.DateRange{{Start: "2024-05-10", End: "2024-05-12"}},
	}
}

func TestBookingFlow_NegotiateAccept(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForSubmit(t)
	fx.gw.createRes = conflictResult()

	result, view, err := fx.svc.Submit(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, SubmissionConflict, result.Status)
	assert.Equal(t, StepNegotiating, view.Step)
	require.NotNil(t, view.Negotiation)
	assert.True(t, view.Negotiation.HasAlternative)

	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "1")
	assert.ErrorIs(t, err, ErrInvalidStep)

	view, err = fx.svc.Negotiate(ctx, testCreds, id, NegotiationAccept)
	require.NoError(t, err)
	assert.Equal(t, StepSummary, view.Step)
	assert.Equal(t, models.DateRange{Start: "2024-05-10", End: "2024-05-12"}, view.Range)
	assert.Len(t, fx.gw.creates(), 1)

	fx.gw.createRes = inventoryapi.CreateReservationResult{Status: inventoryapi.CreateCreated, StatusCode: 201, TransactionID: "TX-2002"}
	result, view, err = fx.svc.Submit(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, SubmissionCreated, result.Status)
	assert.Equal(t, StepCompleted, view.Step)

	creates := fx.gw.creates()
	require.Len(t, creates, 2)
	assert.Equal(t, "2024-05-10", creates[1].StartDate)
	assert.Equal(t, "2024-05-12", creates[1].EndDate)
	assert.Equal(t, creates[0].MainItemQty, creates[1].MainItemQty)
	assert.Equal(t, creates[0].Contact, creates[1].Contact)
}

func TestBookingFlow_NegotiateBrowseKeepsBasket(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForPreflight(t)
	_, err := fx.svc.SuggestItems(ctx, testCreds, id)
	require.NoError(t, err)
	_, err = fx.svc.AddItem(ctx, testCreds, id, 3)
	require.NoError(t, err)
	_, _, err = fx.svc.Preflight(ctx, testCreds, id)
	require.NoError(t, err)

	fx.gw.createRes = conflictResult()
	_, _, err = fx.svc.Submit(ctx, testCreds, id)
	require.NoError(t, err)

	view, err := fx.svc.Negotiate(ctx, testCreds, id, NegotiationBrowse)
	require.NoError(t, err)

	assert.Equal(t, StepDetails, view.Step)
	assert.Equal(t, CalendarEmpty, view.Calendar)
	assert.Equal(t, models.DateRange{}, view.Range)
	assert.Len(t, view.Basket, 2)
	assert.Len(t, view.Documents, 2)
	assert.Nil(t, view.Negotiation)

	_, err = fx.svc.OpenCalendar(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.gw.mapFetches)
}

func TestBookingFlow_NegotiateDeclineEndsFlow(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForSubmit(t)
	fx.gw.createRes = conflictResult()

	_, _, err := fx.svc.Submit(ctx, testCreds, id)
	require.NoError(t, err)

	view, err := fx.svc.Negotiate(ctx, testCreds, id, NegotiationDecline)
	require.NoError(t, err)
	assert.Equal(t, StepAbandoned, view.Step)

	_, err = fx.svc.Get(ctx, testCreds, id)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestBookingFlow_NegotiateOutsideConflict(t *testing.T) {
	fx := setupBookingFlowTest(t)
	id := fx.readyForSubmit(t)

	_, err := fx.svc.Negotiate(context.Background(), testCreds, id, NegotiationAccept)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestBookingFlow_EditDuringPreflightMakesResponseStale(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForPreflight(t)
	fx.gw.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := fx.svc.Preflight(ctx, testCreds, id)
		done <- err
	}()
	require.Eventually(t, func() bool { return fx.gw.blocked() == 1 }, time.Second, 5*time.Millisecond)

	_, _, err := fx.svc.Preflight(ctx, testCreds, id)
	assert.ErrorIs(t, err, ErrRequestInFlight)

	_, err = fx.svc.SetPrimaryQty(ctx, testCreds, id, "3")
	require.NoError(t, err)

	close(fx.gw.block)
	assert.ErrorIs(t, <-done, ErrStaleResponse)

	view, err := fx.svc.Get(ctx, testCreds, id)
	require.NoError(t, err)
	assert.Equal(t, StepDetails, view.Step)
	assert.Nil(t, view.Preflight)
	assert.False(t, view.Pending)
}

func TestBookingFlow_AbandonCancelsInFlightCall(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForPreflight(t)
	fx.gw.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := fx.svc.Preflight(ctx, testCreds, id)
		done <- err
	}()
	require.Eventually(t, func() bool { return fx.gw.blocked() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, fx.svc.Abandon(ctx, testCreds, id))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFlowClosed)
	case <-time.After(time.Second):
		t.Fatal("preflight was not cancelled")
	}

	_, err := fx.svc.Get(ctx, testCreds, id)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestBookingFlow_Attempts(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	id := fx.readyForSubmit(t)
	other := fx.readyForPreflight(t)
	_, _, err := fx.svc.Preflight(ctx, testCreds, other)
	require.NoError(t, err)

	attempts, err := fx.svc.Attempts(ctx, testCreds, id)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, id, attempts[0].FlowID)
	assert.Equal(t, models.AttemptPreflight, attempts[0].Kind)

	_, err = fx.svc.Attempts(ctx, Credentials{UserID: "7"}, id)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	fx.svc.attempts = nil
	_, err = fx.svc.Attempts(ctx, testCreds, id)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestBookingFlow_SessionExpiryPassesThrough(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()
	expired := fmt.Errorf("upstream: %w", inventoryapi.ErrSessionExpired)

	id := fx.readyForPreflight(t)
	fx.gw.rangeCheck = inventoryapi.RangeCheck{Status: inventoryapi.RangeFailed, Err: expired}
	_, _, err := fx.svc.Preflight(ctx, testCreds, id)
	assert.ErrorIs(t, err, inventoryapi.ErrSessionExpired)
	got, err := fx.svc.Get(ctx, testCreds, id)
	require.NoError(t, err)
	assert.False(t, got.Pending)
	assert.Equal(t, StepDetails, got.Step)

	fx.gw.rangeCheck = inventoryapi.RangeCheck{Status: inventoryapi.RangeOK, StatusCode: 200}
	id = fx.readyForSubmit(t)
	fx.gw.createRes = inventoryapi.CreateReservationResult{Status: inventoryapi.CreateFailed, Err: expired}
	_, _, err = fx.svc.Submit(ctx, testCreds, id)
	assert.ErrorIs(t, err, inventoryapi.ErrSessionExpired)
	got, err = fx.svc.Get(ctx, testCreds, id)
	require.NoError(t, err)
	assert.False(t, got.Pending)
	assert.Equal(t, StepSummary, got.Step)
}

func TestBookingFlow_SweepRemovesIdleFlows(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()

	stale, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)

	fx.clock.Advance(20 * time.Minute)
	fresh, err := fx.svc.Start(ctx, testCreds, 2)
	require.NoError(t, err)

	fx.clock.Advance(15 * time.Minute)
	removed := fx.svc.Sweep(fx.clock.Now())
	assert.Equal(t, 1, removed)

	_, err = fx.svc.Get(ctx, testCreds, stale.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)
	_, err = fx.svc.Get(ctx, testCreds, fresh.ID)
	assert.NoError(t, err)
}

func TestBookingFlow_SweepSparesFlowTouchedAfterScan(t *testing.T) {
	fx := setupBookingFlowTest(t)
	ctx := context.Background()

	view, err := fx.svc.Start(ctx, testCreds, 1)
	require.NoError(t, err)
	fx.clock.Advance(45 * time.Minute)
	now := fx.clock.Now()

	idle := fx.svc.store.Idle(now, fx.svc.config.IdleTTL)
	require.Len(t, idle, 1)

	// the user comes back before the sweep takes the flow lock
	_, err = fx.svc.Get(ctx, testCreds, view.ID)
	require.NoError(t, err)

	assert.False(t, fx.svc.expire(idle[0], now.Add(-fx.svc.config.IdleTTL)))
	got, err := fx.svc.Get(ctx, testCreds, view.ID)
	require.NoError(t, err)
	assert.Equal(t, StepDetails, got.Step)
	assert.Zero(t, fx.svc.Sweep(now))
}

func TestBookingFlow_RefreshedAccessToken(t *testing.T) {
	fx := setupBookingFlowTest(t)
	view, err := fx.svc.Start(context.Background(), testCreds, 1)
	require.NoError(t, err)

	_, changed := fx.svc.RefreshedAccessToken(testCreds, view.ID)
	assert.False(t, changed)

	f, ok := fx.svc.store.Get(view.ID)
	require.True(t, ok)
	token, err := f.tokens.Refresh(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	token, changed = fx.svc.RefreshedAccessToken(testCreds, view.ID)
	assert.True(t, changed)
	assert.Equal(t, "access-2", token)
}

func TestGatewayError(t *testing.T) {
	assert.ErrorIs(t, gatewayError("op", inventoryapi.ErrSessionExpired), inventoryapi.ErrSessionExpired)

	var serverErr *ServerError
	assert.ErrorAs(t, gatewayError("op", &inventoryapi.StatusError{StatusCode: 502}), &serverErr)

	var transportErr *TransportError
	err := gatewayError("op", errors.New("dial tcp: refused"))
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "op", transportErr.Op)
}
