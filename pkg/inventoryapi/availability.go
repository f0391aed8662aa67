package inventoryapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// FetchAvailabilityMap returns the per-date availability of an item. Any
// failure yields an empty map; callers treat empty as unknown.
func (u *UserClient) FetchAvailabilityMap(ctx context.Context, itemID int) map[string]CalendarDay {
	path := fmt.Sprintf("/items/%d/availability-map/", itemID)
	log := u.client.logger.WithFields(logrus.Fields{"item_id": itemID, "path": path})

	resp, err := u.do(ctx, http.MethodGet, path, func(r *resty.Request) *resty.Request { return r })
	if err != nil {
		log.WithError(err).Warn("Failed to fetch availability map")
		return map[string]CalendarDay{}
	}
	if !isSuccess(resp.StatusCode()) {
		log.WithField("status", resp.StatusCode()).Warn("Availability map request rejected")
		return map[string]CalendarDay{}
	}

	var body struct {
		Calendar map[string]CalendarDay `json:"calendar"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		log.WithError(err).Warn("Failed to decode availability map")
		return map[string]CalendarDay{}
	}
	if body.Calendar == nil {
		return map[string]CalendarDay{}
	}
	return body.Calendar
}

// quantityKeys are tried in order; the first one present wins
var quantityKeys = []string{"available_qty", "remaining_qty", "available"}

// FetchAvailabilityForDate returns the available quantity for one date, or nil
// when the backend could not answer. A 2xx body with none of the known keys
// yields zero.
func (u *UserClient) FetchAvailabilityForDate(ctx context.Context, itemID int, date string) *int {
	path := fmt.Sprintf("/items/%d/availability/", itemID)
	resp, err := u.do(ctx, http.MethodGet, path, func(r *resty.Request) *resty.Request {
		return r.SetQueryParam("date", date)
	})
	if err != nil || !isSuccess(resp.StatusCode()) {
		return nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil
	}

	qty := 0
	for _, key := range quantityKeys {
		raw, ok := body[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var v FlexInt
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		qty = int(v)
		break
	}
	return &qty
}

type rangeCheckRequest struct {
	ItemID    int    `json:"item_id"`
	Qty       int    `json:"qty"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// CheckRange asks whether qty units of an item are free over the whole range
func (u *UserClient) CheckRange(ctx context.Context, itemID, qty int, dr DateRange) RangeCheck {
	payload := rangeCheckRequest{ItemID: itemID, Qty: qty, StartDate: dr.Start, EndDate: dr.End}
	resp, err := u.do(ctx, http.MethodPost, "/reservations/check/", func(r *resty.Request) *resty.Request {
		return r.SetBody(payload)
	})
	if err != nil {
		return RangeCheck{Status: RangeFailed, Err: err}
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusOK:
		return RangeCheck{Status: RangeOK, StatusCode: status}
	case status == http.StatusConflict:
		var body struct {
			Suggestions []struct {
				Date string `json:"date"`
			} `json:"suggestions"`
		}
		check := RangeCheck{Status: RangeConflict, StatusCode: status}
		if json.Unmarshal(resp.Body(), &body) == nil && len(body.Suggestions) > 0 {
			check.NextAvailableDate = body.Suggestions[0].Date
		}
		return check
	default:
		return RangeCheck{Status: RangeFailed, StatusCode: status, Message: detailOf(resp.Body())}
	}
}

// SuggestItems returns items free over the range, excluding the primary item
func (u *UserClient) SuggestItems(ctx context.Context, dr DateRange, excludeItemID int) ([]Item, error) {
	payload := map[string]string{
		"start_date":      dr.Start,
		"end_date":        dr.End,
		"exclude_item_id": strconv.Itoa(excludeItemID),
	}
	resp, err := u.do(ctx, http.MethodPost, "/suggest-items/", func(r *resty.Request) *resty.Request {
		return r.SetBody(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("suggest items: %w", err)
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, &StatusError{Op: "suggest items", StatusCode: resp.StatusCode(), Message: detailOf(resp.Body())}
	}

	var body struct {
		Suggestions []Item `json:"suggestions"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return body.Suggestions, nil
}

// StatusError is a non-2xx response that has no dedicated interpretation
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}
