package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/services"
)

// ReservationHandler handles the reservation status endpoints
type ReservationHandler struct {
	statuses *services.ReservationStatusService
	logger   *logrus.Logger
}

// NewReservationHandler creates a new ReservationHandler
func NewReservationHandler(statuses *services.ReservationStatusService, logger *logrus.Logger) *ReservationHandler {
	return &ReservationHandler{statuses: statuses, logger: logger}
}

// RegisterRoutes mounts the reservation routes on an authenticated group
func (h *ReservationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	reservations := rg.Group("/reservations")
	reservations.GET("", h.List)
	reservations.POST("/:reservation_id/cancel", h.Cancel)
}

// List returns the user's reservations
// @Summary List reservations
// @Tags Reservations
// @Param filter query string false "Pending, Upcoming, In Use, Past or Cancelled"
// @Router /reservations [get]
func (h *ReservationHandler) List(c *gin.Context) {
	creds, ok := credentials(c)
	if !ok {
		return
	}

	filter, valid := services.ParseStatusFilter(c.Query("filter"))
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
		return
	}

	reservations, refreshed, err := h.statuses.List(c.Request.Context(), creds, filter)
	if refreshed != "" {
		c.Header(RefreshedTokenHeader, refreshed)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filter":       filter,
		"count":        len(reservations),
		"reservations": reservations,
	})
}

// Cancel cancels a pending reservation
// @Summary Cancel reservation
// @Tags Reservations
// @Router /reservations/{reservation_id}/cancel [post]
func (h *ReservationHandler) Cancel(c *gin.Context) {
	creds, ok := credentials(c)
	if !ok {
		return
	}
	reservationID, ok := parseIntParam(c, "reservation_id")
	if !ok {
		return
	}

	refreshed, err := h.statuses.Cancel(c.Request.Context(), creds, reservationID)
	if refreshed != "" {
		c.Header(RefreshedTokenHeader, refreshed)
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"title":   "Success",
		"message": "Reservation cancelled successfully!",
	})
}
