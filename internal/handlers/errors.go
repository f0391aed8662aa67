package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/internal/services"
	"github.com/traillend/reservation-flow/pkg/inventoryapi"
)

// errorBody is the single error shape every endpoint answers with
type errorBody struct {
	Error   string `json:"error"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// respondError maps a service error to a status code and an errorBody
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, body := classifyError(err)

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.JSON(status, body)
}

func classifyError(err error) (int, errorBody) {
	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		transportErr  *services.TransportError
		serverErr     *services.ServerError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorBody{"validation_error", validationErr.Title, validationErr.Message}
	case errors.As(err, &conflictErr):
		return http.StatusConflict, errorBody{"conflict", "Unavailable", conflictErr.Message}
	case errors.Is(err, inventoryapi.ErrSessionExpired):
		return http.StatusUnauthorized, errorBody{"session_expired", "Session Expired", "Please log in again."}
	case errors.Is(err, inventoryapi.ErrUnavailable):
		return http.StatusServiceUnavailable, errorBody{"backend_unavailable", "Service Unavailable", "The reservation service is temporarily unavailable. Please try again shortly."}
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, errorBody{"network_error", "Network Error", "Please check your internet connection."}
	case errors.As(err, &serverErr):
		message := serverErr.Message
		if message == "" {
			message = services.DefaultSubmissionFailure
		}
		return http.StatusBadGateway, errorBody{"server_error", "Error", message}
	case errors.Is(err, services.ErrFlowNotFound):
		return http.StatusNotFound, errorBody{"flow_not_found", "Not Found", "This booking session no longer exists."}
	case errors.Is(err, services.ErrItemNotFound):
		return http.StatusNotFound, errorBody{"item_not_found", "Not Found", "Item not found."}
	case errors.Is(err, services.ErrReservationNotFound):
		return http.StatusNotFound, errorBody{"reservation_not_found", "Not Found", "Reservation not found."}
	case errors.Is(err, services.ErrEntryNotFound):
		return http.StatusNotFound, errorBody{"entry_not_found", "Not Found", "That item is not in your reservation."}
	case errors.Is(err, services.ErrFlowClosed):
		return http.StatusGone, errorBody{"flow_closed", "Session Ended", "This booking session has ended."}
	case errors.Is(err, services.ErrRequestInFlight), errors.Is(err, services.ErrSubmissionInFlight):
		return http.StatusConflict, errorBody{"request_in_flight", "Please Wait", "Your previous request is still being processed."}
	case errors.Is(err, services.ErrStaleResponse):
		return http.StatusConflict, errorBody{"stale_response", "Please Retry", "Your booking changed while the request was running."}
	case errors.Is(err, services.ErrInvalidStep):
		return http.StatusConflict, errorBody{"invalid_step", "Not Allowed", "That action is not available at this step."}
	case errors.Is(err, services.ErrPrimaryNotRemovable):
		return http.StatusBadRequest, errorBody{"primary_not_removable", "Not Allowed", "The main item cannot be removed."}
	case errors.Is(err, services.ErrItemNotSuggested):
		return http.StatusBadRequest, errorBody{"item_not_suggested", "Not Allowed", "Pick an item from the suggestions."}
	case errors.Is(err, services.ErrNoAlternative):
		return http.StatusBadRequest, errorBody{"no_alternative", "No Alternative", services.NoAlternativeMessage}
	case errors.Is(err, services.ErrHistoryUnavailable):
		return http.StatusServiceUnavailable, errorBody{"history_unavailable", "Unavailable", "Reservation history is not available right now."}
	case errors.Is(err, context.Canceled):
		return 499, errorBody{"cancelled", "Cancelled", "The request was cancelled."}
	}

	return http.StatusInternalServerError, errorBody{"internal_error", "Error", services.DefaultSubmissionFailure}
}
