package canteen_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcanteen/locker-service/internal/canteen"
	"github.com/smartcanteen/locker-service/internal/memstore"
)

// base is a Monday late morning, well before the default 22:00 closing.
var base = time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureSink struct {
	mu     sync.Mutex
	events []canteen.Envelope
}

func (s *captureSink) Emit(_ context.Context, env canteen.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, env)
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *captureSink) count(eventType string) int {
	n := 0
	for _, t := range s.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc   *canteen.Service
	store *memstore.Store
	clock *fakeClock
	sink  *captureSink
}

// newFixture seeds one site ("loc-main", closes 22:00) with two menu items
// (soup: stock 10, tea: unlimited) and cells A1..A3.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	clk := &fakeClock{t: base}
	sink := &captureSink{}
	svc := &canteen.Service{Store: st, Events: sink, Producer: "canteen-test", Now: clk.now}

	ctx := context.Background()
	err := st.InTx(ctx, func(tx canteen.Tx) error {
		if err := tx.CreateLocation(ctx, &canteen.Location{
			ID: "loc-main", Name: "Main canteen", Closing: 22 * time.Hour,
		}); err != nil {
			return err
		}
		items := []canteen.MenuItem{
			{ID: "itm-soup", Name: "Tomato soup", Category: "mains", Price: 250},
			{ID: "itm-tea", Name: "Black tea", Category: "drinks", Price: 100},
		}
		for i := range items {
			if err := tx.UpsertMenuItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		soupStock := 10
		if err := tx.SetAvailability(ctx, &canteen.Availability{
			LocationID: "loc-main", MenuItemID: "itm-soup", Available: true, StockQty: &soupStock,
		}); err != nil {
			return err
		}
		if err := tx.SetAvailability(ctx, &canteen.Availability{
			LocationID: "loc-main", MenuItemID: "itm-tea", Available: true,
		}); err != nil {
			return err
		}
		for _, code := range []string{"A1", "A2", "A3"} {
			if err := tx.CreateCell(ctx, &canteen.LockerCell{
				ID: "cell-" + code, LocationID: "loc-main", Code: code, Status: canteen.CellFree,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, clock: clk, sink: sink}
}

// newOrder walks a fresh order to the requested status and returns it.
func (f *fixture) newOrder(t *testing.T, upTo canteen.Status) *canteen.Order {
	t.Helper()
	ctx := context.Background()
	order, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-soup", Qty: 1},
	}, nil)
	require.NoError(t, err)
	if upTo == canteen.StatusCreated {
		return order
	}
	_, err = f.svc.ConfirmPayment(ctx, order.ID)
	require.NoError(t, err)
	if upTo == canteen.StatusPaid {
		return f.reload(t, order.ID)
	}
	_, err = f.svc.MarkInKitchen(ctx, order.ID)
	require.NoError(t, err)
	return f.reload(t, order.ID)
}

func (f *fixture) reload(t *testing.T, orderID string) *canteen.Order {
	t.Helper()
	var out *canteen.Order
	err := f.store.InTx(context.Background(), func(tx canteen.Tx) error {
		o, err := tx.Order(context.Background(), orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) cell(t *testing.T, code string) *canteen.LockerCell {
	t.Helper()
	var out *canteen.LockerCell
	err := f.store.InTx(context.Background(), func(tx canteen.Tx) error {
		c, err := tx.Cell(context.Background(), "cell-"+code)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) reservation(t *testing.T, orderID string) *canteen.Reservation {
	t.Helper()
	var out *canteen.Reservation
	err := f.store.InTx(context.Background(), func(tx canteen.Tx) error {
		r, err := tx.ReservationByOrder(context.Background(), orderID)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) stock(t *testing.T, itemID string) *int {
	t.Helper()
	var out *int
	err := f.store.InTx(context.Background(), func(tx canteen.Tx) error {
		a, err := tx.Availability(context.Background(), "loc-main", itemID)
		if err != nil {
			return err
		}
		out = a.StockQty
		return nil
	})
	require.NoError(t, err)
	return out
}
