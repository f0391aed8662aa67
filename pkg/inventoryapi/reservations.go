package inventoryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

// ListInventory returns every inventory item
func (u *UserClient) ListInventory(ctx context.Context) ([]Item, error) {
	resp, err := u.do(ctx, http.MethodGet, "/inventory_list/", func(r *resty.Request) *resty.Request { return r })
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, &StatusError{Op: "list inventory", StatusCode: resp.StatusCode(), Message: detailOf(resp.Body())}
	}

	var items []Item
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	return items, nil
}

// GetItem looks an item up in the inventory list
func (u *UserClient) GetItem(ctx context.Context, itemID int) (*Item, error) {
	items, err := u.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if int(items[i].ItemID) == itemID {
			return &items[i], nil
		}
	}
	return nil, ErrItemNotFound
}

// CreateReservation posts the multipart create_reservation form
func (u *UserClient) CreateReservation(ctx context.Context, req CreateReservationRequest) CreateReservationResult {
	added := req.AddedItems
	if added == nil {
		added = []AddedItem{}
	}
	addedJSON, err := json.Marshal(added)
	if err != nil {
		return CreateReservationResult{Status: CreateFailed, Err: fmt.Errorf("encode added items: %w", err)}
	}

	fields := map[string]string{
		"main_item_id":    strconv.Itoa(req.MainItemID),
		"main_item_qty":   strconv.Itoa(req.MainItemQty),
		"added_items":     string(addedJSON),
		"start_date":      req.StartDate,
		"end_date":        req.EndDate,
		"priority":        req.Priority,
		"priority_detail": req.PriorityDetail,
		"message":         req.Message,
		"contact":         req.Contact,
	}

	resp, err := u.do(ctx, http.MethodPost, "/create_reservation/", func(r *resty.Request) *resty.Request {
		r.SetMultipartFormData(fields)
		if req.Letter != nil {
			r.SetMultipartField("letter_image", req.Letter.Name, req.Letter.ContentType, bytes.NewReader(req.Letter.Data))
		}
		if req.ValidID != nil {
			r.SetMultipartField("valid_id_image", req.ValidID.Name, req.ValidID.ContentType, bytes.NewReader(req.ValidID.Data))
		}
		return r
	})
	if err != nil {
		return CreateReservationResult{Status: CreateFailed, Err: err}
	}

	status := resp.StatusCode()
	switch status {
	case http.StatusCreated:
		var body struct {
			TransactionID json.RawMessage `json:"transaction_id"`
		}
		_ = json.Unmarshal(resp.Body(), &body)
		return CreateReservationResult{Status: CreateCreated, StatusCode: status, TransactionID: rawString(body.TransactionID)}
	case http.StatusConflict:
		var body struct {
			UnavailableItems []ItemRef   `json:"unavailable_items"`
			SuggestedRanges  []DateRange `json:"suggested_ranges"`
		}
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			u.client.logger.WithError(err).Warn("Failed to decode reservation conflict body")
		}
		return CreateReservationResult{
			Status:           CreateConflict,
			StatusCode:       status,
			UnavailableItems: body.UnavailableItems,
			SuggestedRanges:  body.SuggestedRanges,
		}
	default:
		return CreateReservationResult{Status: CreateFailed, StatusCode: status, Message: detailOf(resp.Body())}
	}
}

// rawString renders a JSON string or number as plain text
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// ListReservations returns the reservations of the authenticated user
func (u *UserClient) ListReservations(ctx context.Context) ([]ReservationRecord, error) {
	resp, err := u.do(ctx, http.MethodGet, "/user_reservations/", func(r *resty.Request) *resty.Request { return r })
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, &StatusError{Op: "list reservations", StatusCode: resp.StatusCode(), Message: detailOf(resp.Body())}
	}

	var body struct {
		Success      bool                `json:"success"`
		Reservations []ReservationRecord `json:"reservations"`
		Message      string              `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode reservations: %w", err)
	}
	if !body.Success {
		return nil, &StatusError{Op: "list reservations", StatusCode: resp.StatusCode(), Message: body.Message}
	}
	return body.Reservations, nil
}

// CancelReservation cancels a pending reservation
func (u *UserClient) CancelReservation(ctx context.Context, reservationID int) error {
	path := fmt.Sprintf("/reservations/%d/cancel/", reservationID)
	resp, err := u.do(ctx, http.MethodDelete, path, func(r *resty.Request) *resty.Request { return r })
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.Body(), &body)
	if !isSuccess(resp.StatusCode()) || !body.Success {
		msg := body.Message
		if msg == "" {
			msg = detailOf(resp.Body())
		}
		return &StatusError{Op: "cancel reservation", StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}
