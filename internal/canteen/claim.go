package canteen

import (
	"context"
	"errors"
)

// ClaimRequest carries either a token or (order id + PIN).
type ClaimRequest struct {
	Token   string `json:"token,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	PIN     string `json:"pin,omitempty"`
}

type ClaimResult struct {
	OrderID         string `json:"order_id"`
	CellCode        string `json:"cell_code"`
	AlreadyPickedUp bool   `json:"already_picked_up,omitempty"`
}

// ClaimPickup validates a presented credential and performs the one-shot
// claim. The guards run in a fixed order; the first failing guard wins, so a
// token that is simultaneously expired and already used always reports
// TOKEN_ALREADY_USED. A claim for an order that was already picked up is
// normalized to success so duplicate scans stay harmless.
//
// Lazy expiry discovered at guard time commits even though the claim itself
// fails with ORDER_EXPIRED.
func (s *Service) ClaimPickup(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	now := s.now()
	var (
		out        *ClaimResult
		expiredEvt *OrderExpiredPayload
		pickedEvt  *OrderPickedUpPayload
		failure    error
	)

	err := s.Store.InTx(ctx, func(tx Tx) error {
		// Guard 1: locate the credential.
		var (
			cred *PickupCredential
			err  error
		)
		switch {
		case req.Token != "":
			cred, err = tx.CredentialByToken(ctx, req.Token)
		case req.OrderID != "" && req.PIN != "":
			cred, err = tx.CredentialByOrderPIN(ctx, req.OrderID, req.PIN)
		default:
			return ErrInvalidRequest
		}
		if errors.Is(err, ErrCredentialNotFound) {
			failure = claimErr(ClaimInvalidToken)
			return nil
		}
		if err != nil {
			return err
		}

		// Lock the order row; every transition on it is serialized here.
		o, err := tx.OrderForUpdate(ctx, cred.OrderID)
		if err != nil {
			return err
		}
		res, err := tx.ReservationByOrder(ctx, o.ID)
		if errors.Is(err, ErrReservationNotFound) {
			res = nil
		} else if err != nil {
			return err
		}

		// Guard 2: already picked up -> idempotent success.
		if o.Status == StatusPickedUp {
			cellCode := ""
			if res != nil {
				cell, err := tx.Cell(ctx, res.CellID)
				if err != nil {
					return err
				}
				cellCode = cell.Code
			}
			out = &ClaimResult{OrderID: o.ID, CellCode: cellCode, AlreadyPickedUp: true}
			return nil
		}

		// Guard 3: hold deadline passed -> lazy expiry, then fail.
		if res != nil && now.After(res.HoldUntil) {
			exp, err := s.expireIfHoldPassed(ctx, tx, o, now)
			if err != nil {
				return err
			}
			if exp != nil && exp.transitioned {
				expiredEvt = &OrderExpiredPayload{OrderID: o.ID, CellCode: exp.cellCode}
			}
			failure = claimErr(ClaimOrderExpired)
			return nil // commit the expiry
		}

		// Guard 4: stale credential after an out-of-band release.
		if res != nil && res.ReleasedAt != nil {
			failure = claimErr(ClaimCellReleased)
			return nil
		}

		// Guard 5: consumed credential.
		if cred.UsedAt != nil {
			failure = claimErr(ClaimTokenAlreadyUsed)
			return nil
		}

		// Guard 6: credential validity window.
		if now.After(cred.ExpiresAt) {
			failure = claimErr(ClaimTokenExpired)
			return nil
		}

		// All guards passed: one-shot claim.
		if err := tx.MarkCredentialUsed(ctx, cred.ID, now); err != nil {
			return err
		}
		o.Status = StatusPickedUp
		o.PickedUpAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		cellCode := ""
		if res != nil {
			cell, err := tx.Cell(ctx, res.CellID)
			if err != nil {
				return err
			}
			cellCode = cell.Code
			if err := s.releaseReservation(ctx, tx, res, now); err != nil {
				return err
			}
		}
		out = &ClaimResult{OrderID: o.ID, CellCode: cellCode}
		pickedEvt = &OrderPickedUpPayload{OrderID: o.ID, CellCode: cellCode}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expiredEvt != nil {
		s.emit(ctx, EventOrderExpired, expiredEvt.OrderID, *expiredEvt)
	}
	if failure != nil {
		return nil, failure
	}
	if pickedEvt != nil {
		s.emit(ctx, EventOrderPickedUp, pickedEvt.OrderID, *pickedEvt)
	}
	return out, nil
}
