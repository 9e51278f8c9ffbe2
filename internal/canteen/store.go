package canteen

import (
	"context"
	"time"
)

// Store is the durable store boundary. Every state transition runs inside
// InTx; implementations must guarantee that the closure either commits as a
// whole or leaves no trace.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the repository surface available inside a transaction. The *ForUpdate
// variants take a row-level lock in SQL-backed implementations so that all
// transitions on one order (and transitively its reservation and credentials)
// are mutually exclusive.
type Tx interface {
	// orders
	CreateOrder(ctx context.Context, o *Order, lines []OrderLine) error
	Order(ctx context.Context, id string) (*Order, error)
	OrderForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error
	OrderLines(ctx context.Context, orderID string) ([]OrderLine, error)
	OrdersByStatus(ctx context.Context, statuses []Status) ([]Order, error) // ordered by scheduled_for
	OrdersByUser(ctx context.Context, userID string) ([]Order, error)      // newest first

	// receipts
	CreateReceipt(ctx context.Context, r *Receipt) error
	ReceiptByOrder(ctx context.Context, orderID string) (*Receipt, error)

	// locker cells
	CreateCell(ctx context.Context, c *LockerCell) error
	Cell(ctx context.Context, id string) (*LockerCell, error)
	CellByCodeForUpdate(ctx context.Context, locationID, code string) (*LockerCell, error)
	FreeCellForUpdate(ctx context.Context, locationID string) (*LockerCell, error) // lowest code first
	ClaimCell(ctx context.Context, cellID string) error                            // FREE -> OCCUPIED, ErrCellOccupied if not FREE
	ReleaseCell(ctx context.Context, cellID string) error                          // -> FREE

	// reservations
	CreateReservation(ctx context.Context, r *Reservation) error
	Reservation(ctx context.Context, id string) (*Reservation, error)
	ReservationByOrder(ctx context.Context, orderID string) (*Reservation, error)
	ReleaseReservation(ctx context.Context, id string, at time.Time) error

	// pickup credentials
	CreateCredential(ctx context.Context, c *PickupCredential) error
	CredentialByToken(ctx context.Context, token string) (*PickupCredential, error)
	CredentialByOrderPIN(ctx context.Context, orderID, pin string) (*PickupCredential, error) // most recently issued match
	ActiveCredential(ctx context.Context, orderID string) (*PickupCredential, error)          // most recent unused
	InvalidateCredentials(ctx context.Context, orderID string, at time.Time) error
	MarkCredentialUsed(ctx context.Context, id string, at time.Time) error

	// menu and availability
	UpsertMenuItem(ctx context.Context, m *MenuItem) error
	MenuItem(ctx context.Context, id string) (*MenuItem, error)
	Availability(ctx context.Context, locationID, menuItemID string) (*Availability, error)
	SetAvailability(ctx context.Context, a *Availability) error
	DecrementStock(ctx context.Context, locationID, menuItemID string, qty int) error
	ListMenu(ctx context.Context, locationID string) ([]MenuListing, error)

	// locations and users
	CreateLocation(ctx context.Context, l *Location) error
	Location(ctx context.Context, id string) (*Location, error)
	CreateUser(ctx context.Context, u *User) error
	UserByLogin(ctx context.Context, login string) (*User, error)
}
