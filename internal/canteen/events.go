package canteen

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventOrderPaid     = "OrderPaid"
	EventOrderReady    = "OrderReady"
	EventOrderPickedUp = "OrderPickedUp"
	EventOrderExpired  = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// EventSink receives lifecycle events after the owning transaction commits.
// A nil sink is allowed; emission is best-effort and never fails an operation.
type EventSink interface {
	Emit(ctx context.Context, env Envelope)
}

// ---- payload types per event ----

type LineQty struct {
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	LocationID string    `json:"location_id"`
	Items      []LineQty `json:"items"`
	Total      int       `json:"total"`
}

type OrderPaidPayload struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

type OrderReadyPayload struct {
	OrderID          string    `json:"order_id"`
	CellCode         string    `json:"cell_code"`
	PickupDeadlineAt time.Time `json:"pickup_deadline_at"`
}

type OrderPickedUpPayload struct {
	OrderID  string `json:"order_id"`
	CellCode string `json:"cell_code"`
}

type OrderExpiredPayload struct {
	OrderID  string `json:"order_id"`
	CellCode string `json:"cell_code"`
}
