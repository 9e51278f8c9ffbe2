package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcanteen/locker-service/internal/canteen"
	"github.com/smartcanteen/locker-service/internal/memstore"
)

func TestInTxRollsBackOnError(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.InTx(ctx, func(tx canteen.Tx) error {
		if err := tx.CreateCell(ctx, &canteen.LockerCell{
			ID: "c1", LocationID: "loc", Code: "A1", Status: canteen.CellFree,
		}); err != nil {
			return err
		}
		if err := tx.ClaimCell(ctx, "c1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = st.InTx(ctx, func(tx canteen.Tx) error {
		_, err := tx.Cell(ctx, "c1")
		return err
	})
	assert.ErrorIs(t, err, canteen.ErrCellNotFound)
}

func TestClaimCellCAS(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	require.NoError(t, st.InTx(ctx, func(tx canteen.Tx) error {
		return tx.CreateCell(ctx, &canteen.LockerCell{
			ID: "c1", LocationID: "loc", Code: "A1", Status: canteen.CellFree,
		})
	}))

	require.NoError(t, st.InTx(ctx, func(tx canteen.Tx) error {
		return tx.ClaimCell(ctx, "c1")
	}))

	err := st.InTx(ctx, func(tx canteen.Tx) error {
		return tx.ClaimCell(ctx, "c1")
	})
	assert.ErrorIs(t, err, canteen.ErrCellOccupied)

	require.NoError(t, st.InTx(ctx, func(tx canteen.Tx) error {
		return tx.ReleaseCell(ctx, "c1")
	}))
	require.NoError(t, st.InTx(ctx, func(tx canteen.Tx) error {
		return tx.ClaimCell(ctx, "c1")
	}))
}

func TestFreeCellForUpdatePicksLowestCode(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	require.NoError(t, st.InTx(ctx, func(tx canteen.Tx) error {
		for _, code := range []string{"B2", "A1", "C3"} {
			if err := tx.CreateCell(ctx, &canteen.LockerCell{
				ID: "c-" + code, LocationID: "loc", Code: code, Status: canteen.CellFree,
			}); err != nil {
				return err
			}
		}
		return tx.ClaimCell(ctx, "c-A1")
	}))

	err := st.InTx(ctx, func(tx canteen.Tx) error {
		c, err := tx.FreeCellForUpdate(ctx, "loc")
		if err != nil {
			return err
		}
		assert.Equal(t, "B2", c.Code)
		return nil
	})
	require.NoError(t, err)
}

func TestCredentialLookups(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

	mk := func(id, token, pin string) *canteen.PickupCredential {
		return &canteen.PickupCredential{
			ID: id, OrderID: "o1", Token: token, PIN: pin,
			ExpiresAt: now.Add(15 * time.Minute), CreatedAt: now,
		}
	}

	require.NoError(t, st.InTx(ctx, func(tx canteen.Tx) error {
		if err := tx.CreateCredential(ctx, mk("cr1", "tok1", "111111")); err != nil {
			return err
		}
		if err := tx.InvalidateCredentials(ctx, "o1", now); err != nil {
			return err
		}
		return tx.CreateCredential(ctx, mk("cr2", "tok2", "222222"))
	}))

	err := st.InTx(ctx, func(tx canteen.Tx) error {
		active, err := tx.ActiveCredential(ctx, "o1")
		if err != nil {
			return err
		}
		assert.Equal(t, "cr2", active.ID)

		old, err := tx.CredentialByToken(ctx, "tok1")
		if err != nil {
			return err
		}
		assert.NotNil(t, old.UsedAt) // invalidated

		byPIN, err := tx.CredentialByOrderPIN(ctx, "o1", "222222")
		if err != nil {
			return err
		}
		assert.Equal(t, "cr2", byPIN.ID)

		_, err = tx.CredentialByOrderPIN(ctx, "o1", "999999")
		assert.ErrorIs(t, err, canteen.ErrCredentialNotFound)
		return nil
	})
	require.NoError(t, err)
}
