package canteen_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

func TestCreateOrderTotalsAndPriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, lines, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-soup", Qty: 2},
		{MenuItemID: "itm-tea", Qty: 1, Comment: "no sugar"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 600, order.Total)
	assert.Equal(t, canteen.StatusCreated, order.Status)
	require.Len(t, lines, 2)
	assert.Equal(t, 250, lines[0].UnitPrice)
	assert.Equal(t, "no sugar", lines[1].Comment)

	// catalog price change must not touch the snapshot
	err = f.store.InTx(ctx, func(tx canteen.Tx) error {
		return tx.UpsertMenuItem(ctx, &canteen.MenuItem{
			ID: "itm-soup", Name: "Tomato soup", Category: "mains", Price: 999,
		})
	})
	require.NoError(t, err)

	view, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, view.Lines[0].UnitPrice)
	assert.Equal(t, 600, view.Order.Total)
}

func TestCreateOrderSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), order.ScheduledFor)

	in2h := base.Add(2 * time.Hour)
	order, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
	}, &in2h)
	require.NoError(t, err)
	assert.Equal(t, in2h, order.ScheduledFor)

	tooFar := base.Add(4 * time.Hour)
	_, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
	}, &tooFar)
	assert.ErrorIs(t, err, canteen.ErrScheduledTimeInvalid)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-ghost", Qty: 1},
	}, nil)
	assert.ErrorIs(t, err, canteen.ErrItemNotFound)

	// switched off by the admin
	err = f.store.InTx(ctx, func(tx canteen.Tx) error {
		return tx.SetAvailability(ctx, &canteen.Availability{
			LocationID: "loc-main", MenuItemID: "itm-tea", Available: false,
		})
	})
	require.NoError(t, err)
	_, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
	}, nil)
	assert.ErrorIs(t, err, canteen.ErrItemUnavailable)

	_, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-main", nil, nil)
	assert.ErrorIs(t, err, canteen.ErrInvalidRequest)

	_, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-soup", Qty: 0},
	}, nil)
	assert.ErrorIs(t, err, canteen.ErrInvalidRequest)
}

func TestCreateOrderStockAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// one good line, one over stock: nothing may be decremented
	_, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
		{MenuItemID: "itm-soup", Qty: 11},
	}, nil)
	assert.ErrorIs(t, err, canteen.ErrItemUnavailable)
	require.NotNil(t, f.stock(t, "itm-soup"))
	assert.Equal(t, 10, *f.stock(t, "itm-soup"))

	_, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-soup", Qty: 4},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, *f.stock(t, "itm-soup"))
	assert.Nil(t, f.stock(t, "itm-tea")) // unlimited stays unlimited
}

func TestCreateOrderClosedLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	err := f.store.InTx(ctx, func(tx canteen.Tx) error {
		return tx.CreateLocation(ctx, &canteen.Location{
			ID: "loc-closed", Name: "Annex", Closing: 22 * time.Hour, IsClosed: true,
		})
	})
	require.NoError(t, err)

	_, _, err = f.svc.CreateOrder(ctx, "user-1", "loc-closed", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
	}, nil)
	assert.ErrorIs(t, err, canteen.ErrLocationClosed)

	_, err = f.svc.Menu(ctx, "loc-closed")
	assert.ErrorIs(t, err, canteen.ErrLocationClosed)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-soup", Qty: 2},
		{MenuItemID: "itm-tea", Qty: 1},
	}, nil)
	require.NoError(t, err)

	receipt, err := f.svc.ConfirmPayment(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 600, receipt.Total)
	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, "Tomato soup", receipt.Lines[0].Name)
	assert.Equal(t, 500, receipt.Lines[0].Subtotal)
	assert.Equal(t, canteen.StatusPaid, f.reload(t, order.ID).Status)

	// double payment is rejected, receipt stays single
	_, err = f.svc.ConfirmPayment(ctx, order.ID)
	assert.ErrorIs(t, err, canteen.ErrInvalidOrderStatus)

	_, err = f.svc.ConfirmPayment(ctx, "no-such-order")
	assert.ErrorIs(t, err, canteen.ErrOrderNotFound)
}

func TestMarkInKitchen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.newOrder(t, canteen.StatusCreated)
	_, err := f.svc.MarkInKitchen(ctx, created.ID)
	assert.ErrorIs(t, err, canteen.ErrInvalidOrderStatus)

	paid := f.newOrder(t, canteen.StatusPaid)
	o, err := f.svc.MarkInKitchen(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, canteen.StatusInKitchen, o.Status)

	// repeat is a no-op
	o, err = f.svc.MarkInKitchen(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, canteen.StatusInKitchen, o.Status)
}

func TestGetOrderLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	res, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	f.clock.advance(canteen.CellHold + time.Minute)

	view, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, canteen.StatusExpired, view.Order.Status)
	assert.Nil(t, view.Pickup)
	assert.Equal(t, canteen.CellFree, f.cell(t, res.CellCode).Status)
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderExpired))

	// a second read must not expire (or emit) again
	_, err = f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderExpired))
}

func TestListQueueOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := base.Add(2 * time.Hour)
	o1, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-soup", Qty: 1},
	}, &late)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, o1.ID)
	require.NoError(t, err)

	soon := base.Add(30 * time.Minute)
	o2, _, err := f.svc.CreateOrder(ctx, "user-1", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 2},
	}, &soon)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, o2.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkInKitchen(ctx, o2.ID)
	require.NoError(t, err)

	// unpaid orders stay out of the queue
	_ = f.newOrder(t, canteen.StatusCreated)

	queue, err := f.svc.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, o2.ID, queue[0].Order.ID) // earliest pickup first
	assert.Equal(t, o1.ID, queue[1].Order.ID)
	require.Len(t, queue[0].Items, 1)
	assert.Equal(t, canteen.QueueItem{Name: "Black tea", Qty: 2}, queue[0].Items[0])
}

func TestListUserOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.newOrder(t, canteen.StatusPaid)
	_, _, err := f.svc.CreateOrder(ctx, "user-2", "loc-main", []canteen.LineRequest{
		{MenuItemID: "itm-tea", Qty: 1},
	}, nil)
	require.NoError(t, err)

	views, err := f.svc.ListUserOrders(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mine.ID, views[0].Order.ID)
	require.NotNil(t, views[0].Receipt)
}

func TestMenuListing(t *testing.T) {
	f := newFixture(t)
	listings, err := f.svc.Menu(context.Background(), "loc-main")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	// sorted by name: Black tea, Tomato soup
	assert.Equal(t, "Black tea", listings[0].Item.Name)
	assert.Nil(t, listings[0].StockQty)
	assert.Equal(t, "Tomato soup", listings[1].Item.Name)
	require.NotNil(t, listings[1].StockQty)
	assert.Equal(t, 10, *listings[1].StockQty)
}

func TestSetAvailabilityValidatesRefs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.SetAvailability(ctx, canteen.Availability{
		LocationID: "loc-ghost", MenuItemID: "itm-tea", Available: true,
	})
	assert.ErrorIs(t, err, canteen.ErrLocationNotFound)

	err = f.svc.SetAvailability(ctx, canteen.Availability{
		LocationID: "loc-main", MenuItemID: "itm-ghost", Available: true,
	})
	assert.ErrorIs(t, err, canteen.ErrItemNotFound)

	five := 5
	err = f.svc.SetAvailability(ctx, canteen.Availability{
		LocationID: "loc-main", MenuItemID: "itm-soup", Available: true, StockQty: &five,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, *f.stock(t, "itm-soup"))
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	require.NoError(t, err)

	assert.Equal(t, []string{
		canteen.EventOrderCreated,
		canteen.EventOrderPaid,
		canteen.EventOrderReady,
		canteen.EventOrderPickedUp,
	}, f.sink.types())

	// envelopes are correlated by order id
	for _, e := range f.sink.events {
		assert.Equal(t, order.ID, e.CorrelationID)
		assert.Equal(t, "canteen-test", e.Producer)
		assert.NotEmpty(t, e.EventID)
	}
}
