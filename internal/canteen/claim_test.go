package canteen_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

func claimCode(t *testing.T, err error) canteen.ClaimCode {
	t.Helper()
	ce, ok := canteen.AsClaimError(err)
	require.True(t, ok, "expected a claim error, got %v", err)
	return ce.Code
}

func TestClaimByToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	out, err := f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	require.NoError(t, err)
	assert.Equal(t, order.ID, out.OrderID)
	assert.Equal(t, ready.CellCode, out.CellCode)
	assert.False(t, out.AlreadyPickedUp)

	o := f.reload(t, order.ID)
	assert.Equal(t, canteen.StatusPickedUp, o.Status)
	require.NotNil(t, o.PickedUpAt)
	assert.Equal(t, canteen.CellFree, f.cell(t, ready.CellCode).Status)
	require.NotNil(t, f.reservation(t, order.ID).ReleasedAt)
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderPickedUp))
}

func TestClaimByPIN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	out, err := f.svc.ClaimPickup(ctx, canteen.ClaimRequest{OrderID: order.ID, PIN: ready.PIN})
	require.NoError(t, err)
	assert.Equal(t, ready.CellCode, out.CellCode)
}

func TestClaimIdempotentAfterPickup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	require.NoError(t, err)

	// a duplicate scan reports success, not TOKEN_ALREADY_USED
	out, err := f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	require.NoError(t, err)
	assert.True(t, out.AlreadyPickedUp)
	assert.Equal(t, ready.CellCode, out.CellCode)
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderPickedUp))
}

func TestClaimInvalidToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: "deadbeefdeadbeefdeadbeefdeadbeef"})
	assert.Equal(t, canteen.ClaimInvalidToken, claimCode(t, err))

	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{OrderID: "o1", PIN: "000000"})
	assert.Equal(t, canteen.ClaimInvalidToken, claimCode(t, err))

	// neither token nor order+pin
	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, canteen.ErrInvalidRequest)
}

func TestClaimWrongPIN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	wrong := "000000"
	if ready.PIN == wrong {
		wrong = "000001"
	}
	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{OrderID: order.ID, PIN: wrong})
	assert.Equal(t, canteen.ClaimInvalidToken, claimCode(t, err))
}

func TestClaimAfterHoldPassed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	f.clock.advance(canteen.CellHold + time.Minute)

	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	assert.Equal(t, canteen.ClaimOrderExpired, claimCode(t, err))

	// the expiry committed despite the failed claim
	assert.Equal(t, canteen.StatusExpired, f.reload(t, order.ID).Status)
	assert.Equal(t, canteen.CellFree, f.cell(t, ready.CellCode).Status)
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderExpired))

	// a repeat claim fails the same way without a second expiry event
	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	assert.Equal(t, canteen.ClaimOrderExpired, claimCode(t, err))
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderExpired))
}

func TestClaimAfterOutOfBandRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	res := f.reservation(t, order.ID)
	require.NoError(t, f.svc.ReleaseCellHold(ctx, res.ID))

	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	assert.Equal(t, canteen.ClaimCellReleased, claimCode(t, err))
}

func TestClaimUsedBeatsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	// force a credential that is both consumed and past its window while the
	// order stays READY; the used check must win
	err = f.store.InTx(ctx, func(tx canteen.Tx) error {
		cred, err := tx.CredentialByToken(ctx, ready.Token)
		if err != nil {
			return err
		}
		return tx.MarkCredentialUsed(ctx, cred.ID, base)
	})
	require.NoError(t, err)
	f.clock.advance(canteen.CredentialTTL + time.Minute)

	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	assert.Equal(t, canteen.ClaimTokenAlreadyUsed, claimCode(t, err))
}

func TestClaimTokenExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	// past the token window, inside the cell hold
	f.clock.advance(canteen.CredentialTTL + time.Minute)

	_, err = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
	assert.Equal(t, canteen.ClaimTokenExpired, claimCode(t, err))

	// order is untouched; a reissued credential still claims the same cell
	assert.Equal(t, canteen.StatusReady, f.reload(t, order.ID).Status)
	fresh, err := f.svc.ReissueCredential(ctx, order.ID)
	require.NoError(t, err)
	out, err := f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: fresh.Token})
	require.NoError(t, err)
	assert.Equal(t, ready.CellCode, out.CellCode)
}

func TestClaimConcurrentSameToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.newOrder(t, canteen.StatusInKitchen)
	ready, err := f.svc.MarkReady(ctx, order.ID, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*canteen.ClaimResult, 2)
	errs := make([]error, 2)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.ClaimPickup(ctx, canteen.ClaimRequest{Token: ready.Token})
		}()
	}
	wg.Wait()

	// both scans succeed; exactly one of them did the transition
	already := 0
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, ready.CellCode, results[i].CellCode)
		if results[i].AlreadyPickedUp {
			already++
		}
	}
	assert.Equal(t, 1, already)
	assert.Equal(t, 1, f.sink.count(canteen.EventOrderPickedUp))
}
