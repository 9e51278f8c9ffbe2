package canteen

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	// CellHold is the default locker hold window.
	CellHold = 60 * time.Minute
	// ClosingGrace extends the hold slightly past the site's closing time
	// when the default window would outlast it.
	ClosingGrace = 15 * time.Minute
)

// assignCell picks a FREE cell (the preferred one if given, otherwise the
// lowest code at the site), flips it to OCCUPIED and records the reservation.
// The flip and the insert commit as one unit with the caller's transaction;
// under concurrent assignments exactly one caller wins a given cell and the
// loser observes ErrCellOccupied or ErrNoFreeCells.
func (s *Service) assignCell(ctx context.Context, tx Tx, o *Order, preferredCode string, now time.Time) (*LockerCell, *Reservation, error) {
	loc, err := tx.Location(ctx, o.LocationID)
	if err != nil {
		return nil, nil, err
	}

	var cell *LockerCell
	if preferredCode != "" {
		cell, err = tx.CellByCodeForUpdate(ctx, o.LocationID, preferredCode)
		if errors.Is(err, ErrNoFreeCells) {
			return nil, nil, ErrNoFreeCells
		}
		if err != nil {
			return nil, nil, err
		}
		if cell.Status != CellFree {
			return nil, nil, ErrCellOccupied
		}
	} else {
		cell, err = tx.FreeCellForUpdate(ctx, o.LocationID)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.ClaimCell(ctx, cell.ID); err != nil {
		return nil, nil, err
	}
	cell.Status = CellOccupied

	holdUntil := now.Add(CellHold)
	if closing := loc.ClosingAt(now); closing.Before(holdUntil) {
		holdUntil = closing.Add(ClosingGrace)
	}

	res := &Reservation{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		CellID:    cell.ID,
		HoldUntil: holdUntil,
		CreatedAt: now,
	}
	if err := tx.CreateReservation(ctx, res); err != nil {
		return nil, nil, err
	}
	return cell, res, nil
}

// releaseReservation returns the cell to the pool. Safe to call twice; the
// second call is a no-op.
func (s *Service) releaseReservation(ctx context.Context, tx Tx, res *Reservation, now time.Time) error {
	if res.ReleasedAt != nil {
		return nil
	}
	if err := tx.ReleaseReservation(ctx, res.ID, now); err != nil {
		return err
	}
	if err := tx.ReleaseCell(ctx, res.CellID); err != nil {
		return err
	}
	t := now
	res.ReleasedAt = &t
	return nil
}

// ReleaseCellHold frees a cell out-of-band (staff cleared the locker by
// hand). Idempotent. The order keeps its status; a later claim against the
// released reservation fails with CELL_RELEASED.
func (s *Service) ReleaseCellHold(ctx context.Context, reservationID string) error {
	now := s.now()
	return s.Store.InTx(ctx, func(tx Tx) error {
		res, err := tx.Reservation(ctx, reservationID)
		if err != nil {
			return err
		}
		return s.releaseReservation(ctx, tx, res, now)
	})
}
