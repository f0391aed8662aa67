package services

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/traillend/reservation-flow/pkg/inventoryapi"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeGateway is an in-memory Gateway. Zero values answer like an empty backend.
type fakeGateway struct {
	mu sync.Mutex

	items       map[int]inventoryapi.Item
	calendar    map[string]inventoryapi.CalendarDay
	dateQty     map[string]int
	suggestions []inventoryapi.Item
	suggestErr  error
	rangeCheck  inventoryapi.RangeCheck
	createRes   inventoryapi.CreateReservationResult

	// block, when set, is received from before CheckRange and CreateReservation return
	block   chan struct{}
	waiting int

	rangeCalls   []inventoryapi.DateRange
	createCalls  []inventoryapi.CreateReservationRequest
	dateFetches  int
	mapFetches   int
	suggestCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		items: map[int]inventoryapi.Item{
			1: {ItemID: 1, Name: "Tent", AvailableQty: flex(5)},
			2: {ItemID: 2, Name: "Chair", AvailableQty: flex(20)},
			3: {ItemID: 3, Name: "Table"},
		},
		calendar:   map[string]inventoryapi.CalendarDay{},
		dateQty:    map[string]int{},
		rangeCheck: inventoryapi.RangeCheck{Status: inventoryapi.RangeOK, StatusCode: 200},
		createRes:  inventoryapi.CreateReservationResult{Status: inventoryapi.CreateCreated, StatusCode: 201, TransactionID: "TX-1001"},
	}
}

func flex(v int) *inventoryapi.FlexInt {
	f := inventoryapi.FlexInt(v)
	return &f
}

func (g *fakeGateway) wait(ctx context.Context) error {
	if g.block == nil {
		return nil
	}
	g.mu.Lock()
	g.waiting++
	g.mu.Unlock()
	select {
	case <-g.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *fakeGateway) CheckRange(ctx context.Context, itemID, qty int, dr inventoryapi.DateRange) inventoryapi.RangeCheck {
	if err := g.wait(ctx); err != nil {
		return inventoryapi.RangeCheck{Status: inventoryapi.RangeFailed, Err: err}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rangeCalls = append(g.rangeCalls, dr)
	return g.rangeCheck
}

func (g *fakeGateway) CreateReservation(ctx context.Context, req inventoryapi.CreateReservationRequest) inventoryapi.CreateReservationResult {
	if err := g.wait(ctx); err != nil {
		return inventoryapi.CreateReservationResult{Status: inventoryapi.CreateFailed, Err: err}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls = append(g.createCalls, req)
	return g.createRes
}

func (g *fakeGateway) FetchAvailabilityMap(ctx context.Context, itemID int) map[string]inventoryapi.CalendarDay {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mapFetches++
	out := make(map[string]inventoryapi.CalendarDay, len(g.calendar))
	for k, v := range g.calendar {
		out[k] = v
	}
	return out
}

func (g *fakeGateway) FetchAvailabilityForDate(ctx context.Context, itemID int, date string) *int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dateFetches++
	if qty, ok := g.dateQty[date]; ok {
		return &qty
	}
	return nil
}

func (g *fakeGateway) GetItem(ctx context.Context, itemID int) (*inventoryapi.Item, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, ok := g.items[itemID]
	if !ok {
		return nil, inventoryapi.ErrItemNotFound
	}
	return &item, nil
}

func (g *fakeGateway) SuggestItems(ctx context.Context, dr inventoryapi.DateRange, excludeItemID int) ([]inventoryapi.Item, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suggestCalls++
	if g.suggestErr != nil {
		return nil, g.suggestErr
	}
	return g.suggestions, nil
}

func (g *fakeGateway) blocked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

func (g *fakeGateway) creates() []inventoryapi.CreateReservationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]inventoryapi.CreateReservationRequest(nil), g.createCalls...)
}
