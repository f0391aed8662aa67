package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/middleware"
	"github.com/traillend/reservation-flow/internal/models"
	"github.com/traillend/reservation-flow/internal/services"
)

// RefreshedTokenHeader carries an access token minted while serving the request
const RefreshedTokenHeader = "X-Refreshed-Access-Token"

// BookingFlowHandler handles the booking flow endpoints
type BookingFlowHandler struct {
	flows            *services.BookingFlowService
	maxDocumentBytes int64
	logger           *logrus.Logger
}

// NewBookingFlowHandler creates a new BookingFlowHandler
func NewBookingFlowHandler(flows *services.BookingFlowService, maxDocumentBytes int, logger *logrus.Logger) *BookingFlowHandler {
	return &BookingFlowHandler{
		flows:            flows,
		maxDocumentBytes: int64(maxDocumentBytes),
		logger:           logger,
	}
}

// RegisterRoutes mounts the flow routes on an authenticated group
func (h *BookingFlowHandler) RegisterRoutes(rg *gin.RouterGroup) {
	flows := rg.Group("/flows")
	flows.POST("", h.Start)
	flows.GET("/:flow_id", h.Get)
	flows.DELETE("/:flow_id", h.Abandon)
	flows.GET("/:flow_id/attempts", h.Attempts)

	flows.GET("/:flow_id/calendar", h.OpenCalendar)
	flows.POST("/:flow_id/calendar/select", h.SelectDate)

	flows.PUT("/:flow_id/primary/qty", h.SetPrimaryQty)
	flows.GET("/:flow_id/suggestions", h.SuggestItems)
	flows.POST("/:flow_id/items", h.AddItem)
	flows.PUT("/:flow_id/items/:entry_id/qty", h.SetItemQty)
	flows.DELETE("/:flow_id/items/:entry_id", h.RemoveItem)

	flows.PATCH("/:flow_id/details", h.SetDetails)
	flows.POST("/:flow_id/documents/:kind", h.AttachDocument)

	flows.POST("/:flow_id/preflight", h.Preflight)
	flows.POST("/:flow_id/submit", h.Submit)
	flows.POST("/:flow_id/negotiate", h.Negotiate)
}

type startFlowRequest struct {
	ItemID int `json:"item_id" binding:"required,min=1"`
}

type selectDateRequest struct {
	Date string            `json:"date" binding:"required"`
	Role services.DateRole `json:"role" binding:"required"`
}

type quantityRequest struct {
	Qty models.QuantityInput `json:"qty"`
}

type addItemRequest struct {
	ItemID int `json:"item_id" binding:"required,min=1"`
}

type negotiateRequest struct {
	Action services.NegotiationAction `json:"action" binding:"required"`
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start opens a booking flow
// @Summary Start booking flow
// @Tags Booking Flow
// @Param request body startFlowRequest true "Primary item"
// @Success 201 {object} services.FlowView
// @Router /flows [post]
func (h *BookingFlowHandler) Start(c *gin.Context) {
	creds, ok := credentials(c)
	if !ok {
		return
	}

	var req startFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.Start(c.Request.Context(), creds, req.ItemID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Set("flow_id", view.ID.String())
	h.exposeRefreshedToken(c, creds, view.ID)
	c.JSON(http.StatusCreated, view)
}

// Get returns the current flow state
// @Router /flows/{flow_id} [get]
func (h *BookingFlowHandler) Get(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	view, err := h.flows.Get(c.Request.Context(), creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Attempts lists the recorded preflight and submission outcomes of the flow
// @Router /flows/{flow_id}/attempts [get]
func (h *BookingFlowHandler) Attempts(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	attempts, err := h.flows.Attempts(c.Request.Context(), creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// Abandon tears the flow down
// @Router /flows/{flow_id} [delete]
func (h *BookingFlowHandler) Abandon(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	if err := h.flows.Abandon(c.Request.Context(), creds, flowID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================================================
// CALENDAR
// ============================================================================

// OpenCalendar fetches and indexes the availability map
// @Router /flows/{flow_id}/calendar [get]
func (h *BookingFlowHandler) OpenCalendar(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	view, err := h.flows.OpenCalendar(c.Request.Context(), creds, flowID)
	h.exposeRefreshedToken(c, creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SelectDate applies a calendar tap
// @Router /flows/{flow_id}/calendar/select [post]
func (h *BookingFlowHandler) SelectDate(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	var req selectDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.SelectDate(c.Request.Context(), creds, flowID, req.Date, req.Role)
	h.exposeRefreshedToken(c, creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ============================================================================
// BASKET
// ============================================================================

// SetPrimaryQty sets the primary item quantity
// @Router /flows/{flow_id}/primary/qty [put]
func (h *BookingFlowHandler) SetPrimaryQty(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.SetPrimaryQty(c.Request.Context(), creds, flowID, string(req.Qty))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SuggestItems lists items free over the chosen range
// @Router /flows/{flow_id}/suggestions [get]
func (h *BookingFlowHandler) SuggestItems(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	items, err := h.flows.SuggestItems(c.Request.Context(), creds, flowID)
	h.exposeRefreshedToken(c, creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": items})
}

// AddItem adds a suggested item as a supplementary entry
// @Router /flows/{flow_id}/items [post]
func (h *BookingFlowHandler) AddItem(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.AddItem(c.Request.Context(), creds, flowID, req.ItemID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// SetItemQty sets the quantity of one basket entry
// @Router /flows/{flow_id}/items/{entry_id}/qty [put]
func (h *BookingFlowHandler) SetItemQty(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}
	entryID, ok := parseUUIDParam(c, "entry_id")
	if !ok {
		return
	}

	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.SetItemQty(c.Request.Context(), creds, flowID, entryID, string(req.Qty))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// RemoveItem removes one supplementary entry
// @Router /flows/{flow_id}/items/{entry_id} [delete]
func (h *BookingFlowHandler) RemoveItem(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}
	entryID, ok := parseUUIDParam(c, "entry_id")
	if !ok {
		return
	}

	view, err := h.flows.RemoveItem(c.Request.Context(), creds, flowID, entryID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ============================================================================
// DETAILS & DOCUMENTS
// ============================================================================

// SetDetails updates priority, reason, contact and terms acceptance
// @Router /flows/{flow_id}/details [patch]
func (h *BookingFlowHandler) SetDetails(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	var req services.DetailsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.SetDetails(c.Request.Context(), creds, flowID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AttachDocument uploads the request letter or the valid ID
// @Accept multipart/form-data
// @Param kind path string true "letter or valid_id"
// @Param file formData file true "Image"
// @Router /flows/{flow_id}/documents/{kind} [post]
func (h *BookingFlowHandler) AttachDocument(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	kind, valid := models.ParseDocumentKind(c.Param("kind"))
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document kind"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if h.maxDocumentBytes > 0 && fileHeader.Size > h.maxDocumentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{"file_too_large", "File Too Large", "Please upload a smaller photo."})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}

	view, err := h.flows.AttachDocument(c.Request.Context(), creds, flowID, kind, fileHeader.Filename, data)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ============================================================================
// PREFLIGHT, SUBMIT, NEGOTIATE
// ============================================================================

// Preflight checks availability before the summary step
// @Success 200 {object} services.PreflightResult
// @Failure 409 {object} services.PreflightResult "Unavailable, with next available date"
// @Router /flows/{flow_id}/preflight [post]
func (h *BookingFlowHandler) Preflight(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	result, view, err := h.flows.Preflight(c.Request.Context(), creds, flowID)
	h.exposeRefreshedToken(c, creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case services.PreflightConflict:
		status = http.StatusConflict
	case services.PreflightMissingDates, services.PreflightMissingQuantity:
		status = http.StatusBadRequest
	case services.PreflightCheckFailed:
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"result":    result,
		"retryable": result.Retryable(),
		"flow":      view,
	})
}

// Submit posts the reservation request
// @Success 201 {object} services.SubmissionResult
// @Failure 409 {object} services.SubmissionResult "Unavailable, negotiation opened"
// @Router /flows/{flow_id}/submit [post]
func (h *BookingFlowHandler) Submit(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	result, view, err := h.flows.Submit(c.Request.Context(), creds, flowID)
	h.exposeRefreshedToken(c, creds, flowID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	switch result.Status {
	case services.SubmissionConflict:
		status = http.StatusConflict
	case services.SubmissionFailed:
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{
		"result": result,
		"flow":   view,
	})
}

// Negotiate answers a submission conflict with accept, decline or browse
// @Router /flows/{flow_id}/negotiate [post]
func (h *BookingFlowHandler) Negotiate(c *gin.Context) {
	creds, flowID, ok := h.flowRequest(c)
	if !ok {
		return
	}

	var req negotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	view, err := h.flows.Negotiate(c.Request.Context(), creds, flowID, req.Action)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ============================================================================
// HELPERS
// ============================================================================

func credentials(c *gin.Context) (services.Credentials, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return services.Credentials{}, false
	}
	return services.Credentials{
		UserID:       userCtx.UserID,
		AccessToken:  userCtx.AccessToken,
		RefreshToken: userCtx.RefreshToken,
		Platform:     userCtx.Platform,
	}, true
}

func (h *BookingFlowHandler) flowRequest(c *gin.Context) (services.Credentials, uuid.UUID, bool) {
	creds, ok := credentials(c)
	if !ok {
		return services.Credentials{}, uuid.Nil, false
	}
	flowID, ok := parseUUIDParam(c, "flow_id")
	if !ok {
		return services.Credentials{}, uuid.Nil, false
	}
	c.Set("flow_id", flowID.String())
	return creds, flowID, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func parseIntParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *BookingFlowHandler) exposeRefreshedToken(c *gin.Context, creds services.Credentials, flowID uuid.UUID) {
	if token, ok := h.flows.RefreshedAccessToken(creds, flowID); ok {
		c.Header(RefreshedTokenHeader, token)
	}
}
