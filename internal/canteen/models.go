package canteen

import "time"

type Order struct {
	ID               string
	UserID           string
	LocationID       string
	Status           Status // see status.go
	ScheduledFor     time.Time
	Total            int // minor currency units
	PickupDeadlineAt *time.Time
	ReadyAt          *time.Time
	PickedUpAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderLine is created with its order and immutable afterwards. UnitPrice is
// a snapshot of the catalog price at creation time.
type OrderLine struct {
	ID         string
	OrderID    string
	MenuItemID string
	Qty        int
	UnitPrice  int
	Comment    string
}

// Receipt is an immutable snapshot of a paid order, written exactly once by
// ConfirmPayment.
type Receipt struct {
	ID      string
	OrderID string
	Lines   []ReceiptLine
	Total   int
	PaidAt  time.Time
}

type ReceiptLine struct {
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	UnitPrice int    `json:"unit_price"`
	Subtotal  int    `json:"subtotal"`
}

type CellStatus string

const (
	CellFree     CellStatus = "FREE"
	CellReserved CellStatus = "RESERVED"
	CellOccupied CellStatus = "OCCUPIED"
)

type LockerCell struct {
	ID         string
	LocationID string
	Code       string // human-readable, e.g. "A7"
	Status     CellStatus
}

// Reservation holds a cell for one order until HoldUntil. At most one active
// (ReleasedAt == nil) reservation may reference a cell at any time.
type Reservation struct {
	ID         string
	OrderID    string
	CellID     string
	HoldUntil  time.Time
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// PickupCredential is the token+PIN pair proving the right to claim an
// order's locker. Issuing a new credential invalidates all unused ones for
// the same order, so at most one is live at a given moment.
type PickupCredential struct {
	ID        string
	OrderID   string
	Token     string
	PIN       string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type MenuItem struct {
	ID       string
	Name     string
	Category string
	Price    int // minor currency units
}

// Availability answers "is this item orderable at this site" plus remaining
// stock. StockQty nil means unlimited.
type Availability struct {
	LocationID string
	MenuItemID string
	Available  bool
	StockQty   *int
}

// MenuListing is one row of the customer-facing menu for a site.
type MenuListing struct {
	Item      MenuItem
	Available bool
	StockQty  *int
}

type Location struct {
	ID       string
	Name     string
	Closing  time.Duration // offset from local midnight, e.g. 17h30m
	IsClosed bool          // manual override
}

// ClosingAt resolves the location's closing time on the given day.
func (l Location) ClosingAt(day time.Time) time.Time {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(l.Closing)
}

type User struct {
	ID          string
	Login       string
	PINHash     string
	DisplayName string
	Role        Role
}
