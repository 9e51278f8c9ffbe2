package canteen

import "errors"

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrItemNotFound         = errors.New("menu item not found")
	ErrItemUnavailable      = errors.New("menu item unavailable")
	ErrScheduledTimeInvalid = errors.New("scheduled time invalid")
	ErrInvalidOrderStatus   = errors.New("invalid order status")
	ErrNoFreeCells          = errors.New("no free cells")
	ErrCellNotFound         = errors.New("cell not found")
	ErrCellOccupied         = errors.New("cell occupied")
	ErrLocationNotFound     = errors.New("location not found")
	ErrLocationClosed       = errors.New("location closed")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrCredentialNotFound   = errors.New("credential not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrReceiptNotFound      = errors.New("receipt not found")
	ErrInvalidRequest       = errors.New("invalid request")
)

// ClaimCode categorizes claim failures. The codes are part of the pickup
// terminal contract.
type ClaimCode string

const (
	ClaimInvalidToken     ClaimCode = "INVALID_TOKEN"
	ClaimOrderExpired     ClaimCode = "ORDER_EXPIRED"
	ClaimCellReleased     ClaimCode = "CELL_RELEASED"
	ClaimTokenAlreadyUsed ClaimCode = "TOKEN_ALREADY_USED"
	ClaimTokenExpired     ClaimCode = "TOKEN_EXPIRED"
)

type ClaimError struct {
	Code ClaimCode
}

func (e *ClaimError) Error() string { return string(e.Code) }

func claimErr(code ClaimCode) error { return &ClaimError{Code: code} }

// AsClaimError unwraps err into a ClaimError, if it is one.
func AsClaimError(err error) (*ClaimError, bool) {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
