package canteen

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// CredentialTTL is deliberately shorter than the cell hold so an expired
	// token forces re-issuance without losing the locker slot.
	CredentialTTL = 15 * time.Minute

	// tokenBytes gives 128 bits of entropy, above the 80-bit floor required
	// for claim tokens.
	tokenBytes = 16
)

// NewToken returns a cryptographically unguessable claim token, fixed length
// (32 hex characters).
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewPIN returns a 6-digit PIN from a cryptographically secure source. The
// PIN is the fallback channel when the token cannot be scanned.
func NewPIN() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("pin entropy: %w", err)
	}
	n := binary.BigEndian.Uint64(b[:]) % 1000000
	return fmt.Sprintf("%06d", n), nil
}

// issueCredential invalidates every unused credential for the order and
// creates a fresh one, so at most one credential is live at any moment.
// Must be called inside the order's transaction.
func (s *Service) issueCredential(ctx context.Context, tx Tx, orderID string, now time.Time) (*PickupCredential, error) {
	if err := tx.InvalidateCredentials(ctx, orderID, now); err != nil {
		return nil, err
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	pin, err := NewPIN()
	if err != nil {
		return nil, err
	}
	cred := &PickupCredential{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Token:     token,
		PIN:       pin,
		ExpiresAt: now.Add(CredentialTTL),
		CreatedAt: now,
	}
	if err := tx.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// ReissueCredential replaces the credential of an order that is already
// READY, e.g. when the kitchen must regenerate pickup proof after the token
// window lapsed. The cell hold is left untouched.
func (s *Service) ReissueCredential(ctx context.Context, orderID string) (*ReadyResult, error) {
	now := s.now()
	var (
		out        *ReadyResult
		expiredEvt *OrderExpiredPayload
		failure    error
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusReady {
			return ErrInvalidOrderStatus
		}
		exp, err := s.expireIfHoldPassed(ctx, tx, o, now)
		if err != nil {
			return err
		}
		if exp != nil {
			expiredEvt = &OrderExpiredPayload{OrderID: o.ID, CellCode: exp.cellCode}
			failure = ErrInvalidOrderStatus
			return nil // commit the expiry
		}
		res, err := tx.ReservationByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		cell, err := tx.Cell(ctx, res.CellID)
		if err != nil {
			return err
		}
		cred, err := s.issueCredential(ctx, tx, o.ID, now)
		if err != nil {
			return err
		}
		out = &ReadyResult{
			OrderID:          o.ID,
			CellCode:         cell.Code,
			Token:            cred.Token,
			PIN:              cred.PIN,
			TokenExpiresAt:   cred.ExpiresAt,
			PickupDeadlineAt: res.HoldUntil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expiredEvt != nil {
		s.emit(ctx, EventOrderExpired, orderID, *expiredEvt)
	}
	if failure != nil {
		return nil, failure
	}
	return out, nil
}
