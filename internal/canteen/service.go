package canteen

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	// ScheduleDefault is applied when the customer does not pick a time.
	ScheduleDefault = time.Hour
	// ScheduleMax bounds how far ahead a pickup may be scheduled.
	ScheduleMax = 3 * time.Hour
)

// Service owns the order lifecycle: creation, payment, kitchen readiness,
// locker assignment, credential issuance and the pickup claim. All state
// transitions run inside Store.InTx; lifecycle events are emitted only after
// the transaction committed.
type Service struct {
	Store    Store
	Events   EventSink // optional
	Producer string    // service name stamped into events
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) emit(ctx context.Context, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.Events.Emit(ctx, Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.Producer,
		CorrelationID: orderID,
		Payload:       b,
	})
}

type LineRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
	Comment    string `json:"comment,omitempty"`
}

// CreateOrder validates every requested item against the site's availability,
// snapshots current prices into the lines and persists order plus lines
// atomically. Any per-line failure aborts the whole order.
func (s *Service) CreateOrder(ctx context.Context, userID, locationID string, reqs []LineRequest, scheduledFor *time.Time) (*Order, []OrderLine, error) {
	if userID == "" || locationID == "" || len(reqs) == 0 {
		return nil, nil, ErrInvalidRequest
	}
	now := s.now()

	scheduled := now.Add(ScheduleDefault)
	if scheduledFor != nil {
		scheduled = *scheduledFor
	}
	if scheduled.After(now.Add(ScheduleMax)) {
		return nil, nil, ErrScheduledTimeInvalid
	}

	order := &Order{
		ID:           uuid.NewString(),
		UserID:       userID,
		LocationID:   locationID,
		Status:       StatusCreated,
		ScheduledFor: scheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var lines []OrderLine

	err := s.Store.InTx(ctx, func(tx Tx) error {
		loc, err := tx.Location(ctx, locationID)
		if err != nil {
			return err
		}
		if loc.IsClosed {
			return ErrLocationClosed
		}

		// Validate every line before touching stock, so a late failure
		// leaves nothing behind.
		total := 0
		lines = lines[:0]
		for _, req := range reqs {
			if req.MenuItemID == "" || req.Qty < 1 {
				return ErrInvalidRequest
			}
			item, err := tx.MenuItem(ctx, req.MenuItemID)
			if err != nil {
				return err
			}
			av, err := tx.Availability(ctx, locationID, item.ID)
			if err != nil {
				if errors.Is(err, ErrItemNotFound) {
					return ErrItemUnavailable
				}
				return err
			}
			if !av.Available {
				return ErrItemUnavailable
			}
			if av.StockQty != nil && *av.StockQty < req.Qty {
				return ErrItemUnavailable
			}
			total += item.Price * req.Qty
			lines = append(lines, OrderLine{
				ID:         uuid.NewString(),
				OrderID:    order.ID,
				MenuItemID: item.ID,
				Qty:        req.Qty,
				UnitPrice:  item.Price,
				Comment:    req.Comment,
			})
		}

		for _, req := range reqs {
			if err := tx.DecrementStock(ctx, locationID, req.MenuItemID, req.Qty); err != nil {
				return err
			}
		}

		order.Total = total
		return tx.CreateOrder(ctx, order, lines)
	})
	if err != nil {
		return nil, nil, err
	}

	items := make([]LineQty, 0, len(lines))
	for _, l := range lines {
		items = append(items, LineQty{MenuItemID: l.MenuItemID, Qty: l.Qty})
	}
	s.emit(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID: order.ID, UserID: userID, LocationID: locationID,
		Items: items, Total: order.Total,
	})
	return order, lines, nil
}

// ConfirmPayment transitions CREATED -> PAID and writes the receipt snapshot.
// Not idempotent on purpose: a second call fails with ErrInvalidOrderStatus
// so a double payment is never silently accepted.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*Receipt, error) {
	now := s.now()
	var receipt *Receipt

	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusCreated {
			return ErrInvalidOrderStatus
		}
		o.Status = StatusPaid
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		lines, err := tx.OrderLines(ctx, o.ID)
		if err != nil {
			return err
		}
		rls := make([]ReceiptLine, 0, len(lines))
		for _, l := range lines {
			item, err := tx.MenuItem(ctx, l.MenuItemID)
			if err != nil {
				return err
			}
			rls = append(rls, ReceiptLine{
				Name: item.Name, Qty: l.Qty,
				UnitPrice: l.UnitPrice, Subtotal: l.Qty * l.UnitPrice,
			})
		}
		receipt = &Receipt{
			ID:      uuid.NewString(),
			OrderID: o.ID,
			Lines:   rls,
			Total:   o.Total,
			PaidAt:  now,
		}
		return tx.CreateReceipt(ctx, receipt)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventOrderPaid, orderID, OrderPaidPayload{OrderID: orderID, Total: receipt.Total})
	return receipt, nil
}

// MarkInKitchen flags prep in progress. A no-op when already IN_KITCHEN.
func (s *Service) MarkInKitchen(ctx context.Context, orderID string) (*Order, error) {
	now := s.now()
	var out *Order
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusInKitchen {
			out = o
			return nil
		}
		if !CanTransition(o.Status, StatusInKitchen) {
			return ErrInvalidOrderStatus
		}
		o.Status = StatusInKitchen
		o.UpdatedAt = now
		out = o
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type ReadyResult struct {
	OrderID          string    `json:"order_id"`
	CellCode         string    `json:"cell_code"`
	Token            string    `json:"token"`
	PIN              string    `json:"pin"`
	TokenExpiresAt   time.Time `json:"token_expires_at"`
	PickupDeadlineAt time.Time `json:"pickup_deadline_at"`
}

// MarkReady assigns a locker cell and issues the pickup credential, then
// transitions the order to READY. Idempotent for an order that is already
// READY: the existing assignment is returned, and the credential is reissued
// only if none is currently live.
func (s *Service) MarkReady(ctx context.Context, orderID, preferredCellCode string) (*ReadyResult, error) {
	now := s.now()
	var (
		out        *ReadyResult
		expiredEvt *OrderExpiredPayload
		readyEvt   *OrderReadyPayload
		failure    error
	)

	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if o.Status == StatusReady {
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
			cred, err := tx.ActiveCredential(ctx, o.ID)
			if errors.Is(err, ErrCredentialNotFound) || (err == nil && now.After(cred.ExpiresAt)) {
				cred, err = s.issueCredential(ctx, tx, o.ID, now)
			}
			if err != nil {
				return err
			}
			out = &ReadyResult{
				OrderID: o.ID, CellCode: cell.Code,
				Token: cred.Token, PIN: cred.PIN,
				TokenExpiresAt: cred.ExpiresAt, PickupDeadlineAt: res.HoldUntil,
			}
			return nil
		}

		if !InProgress(o.Status) {
			return ErrInvalidOrderStatus
		}

		cell, res, err := s.assignCell(ctx, tx, o, preferredCellCode, now)
		if err != nil {
			return err
		}
		cred, err := s.issueCredential(ctx, tx, o.ID, now)
		if err != nil {
			return err
		}

		o.Status = StatusReady
		o.ReadyAt = &now
		o.PickupDeadlineAt = &res.HoldUntil
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		out = &ReadyResult{
			OrderID: o.ID, CellCode: cell.Code,
			Token: cred.Token, PIN: cred.PIN,
			TokenExpiresAt: cred.ExpiresAt, PickupDeadlineAt: res.HoldUntil,
		}
		readyEvt = &OrderReadyPayload{OrderID: o.ID, CellCode: cell.Code, PickupDeadlineAt: res.HoldUntil}
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
	if readyEvt != nil {
		s.emit(ctx, EventOrderReady, orderID, *readyEvt)
	}
	return out, nil
}

type PickupInfo struct {
	CellCode         string    `json:"cell_code"`
	Token            string    `json:"token"`
	PIN              string    `json:"pin"`
	TokenExpiresAt   time.Time `json:"token_expires_at"`
	PickupDeadlineAt time.Time `json:"pickup_deadline_at"`
	TokenValid       bool      `json:"token_valid"`
}

type OrderView struct {
	Order   Order
	Lines   []OrderLine
	Receipt *Receipt
	Pickup  *PickupInfo
}

// GetOrder reads an order, first discovering hold expiry if it is READY.
// Expiry is detected lazily on reads, never by a timer.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	now := s.now()
	var (
		view       OrderView
		expiredEvt *OrderExpiredPayload
	)

	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusReady {
			exp, err := s.expireIfHoldPassed(ctx, tx, o, now)
			if err != nil {
				return err
			}
			if exp != nil {
				expiredEvt = &OrderExpiredPayload{OrderID: o.ID, CellCode: exp.cellCode}
			}
		}

		lines, err := tx.OrderLines(ctx, o.ID)
		if err != nil {
			return err
		}
		view = OrderView{Order: *o, Lines: lines}

		if r, err := tx.ReceiptByOrder(ctx, o.ID); err == nil {
			view.Receipt = r
		} else if !errors.Is(err, ErrReceiptNotFound) {
			return err
		}

		if o.Status == StatusReady {
			res, err := tx.ReservationByOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			cell, err := tx.Cell(ctx, res.CellID)
			if err != nil {
				return err
			}
			cred, err := tx.ActiveCredential(ctx, o.ID)
			if err == nil {
				view.Pickup = &PickupInfo{
					CellCode: cell.Code,
					Token:    cred.Token, PIN: cred.PIN,
					TokenExpiresAt:   cred.ExpiresAt,
					PickupDeadlineAt: res.HoldUntil,
					TokenValid:       now.Before(cred.ExpiresAt),
				}
			} else if !errors.Is(err, ErrCredentialNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expiredEvt != nil {
		s.emit(ctx, EventOrderExpired, orderID, *expiredEvt)
	}
	return &view, nil
}

type QueueItem struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

type QueueEntry struct {
	Order Order
	Items []QueueItem
}

// ListQueue returns the kitchen queue: paid work not yet in a locker,
// earliest scheduled pickup first.
func (s *Service) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	var out []QueueEntry
	err := s.Store.InTx(ctx, func(tx Tx) error {
		orders, err := tx.OrdersByStatus(ctx, []Status{StatusPaid, StatusInKitchen})
		if err != nil {
			return err
		}
		out = make([]QueueEntry, 0, len(orders))
		for _, o := range orders {
			lines, err := tx.OrderLines(ctx, o.ID)
			if err != nil {
				return err
			}
			items := make([]QueueItem, 0, len(lines))
			for _, l := range lines {
				item, err := tx.MenuItem(ctx, l.MenuItemID)
				if err != nil {
					return err
				}
				items = append(items, QueueItem{Name: item.Name, Qty: l.Qty})
			}
			out = append(out, QueueEntry{Order: o, Items: items})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUserOrders returns the caller's orders, newest first. Reads go through
// GetOrder-style lazy expiry for any READY order.
func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]OrderView, error) {
	var ids []string
	err := s.Store.InTx(ctx, func(tx Tx) error {
		orders, err := tx.OrdersByUser(ctx, userID)
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(ids))
	for _, id := range ids {
		v, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// Menu lists the site's catalog with availability and remaining stock.
func (s *Service) Menu(ctx context.Context, locationID string) ([]MenuListing, error) {
	var out []MenuListing
	err := s.Store.InTx(ctx, func(tx Tx) error {
		loc, err := tx.Location(ctx, locationID)
		if err != nil {
			return err
		}
		if loc.IsClosed {
			return ErrLocationClosed
		}
		out, err = tx.ListMenu(ctx, locationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetAvailability updates a site's stock/availability row for one item.
func (s *Service) SetAvailability(ctx context.Context, a Availability) error {
	return s.Store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.Location(ctx, a.LocationID); err != nil {
			return err
		}
		if _, err := tx.MenuItem(ctx, a.MenuItemID); err != nil {
			return err
		}
		return tx.SetAvailability(ctx, &a)
	})
}

type expiryResult struct {
	cellCode     string
	transitioned bool // false when the order had already been expired earlier
}

// expireIfHoldPassed applies lazy expiry when the reservation's hold deadline
// has passed: order -> EXPIRED, reservation released, cell FREE. Returns nil
// when the hold is still good or no reservation exists. Idempotent; a second
// discovery only reports the (already released) cell.
func (s *Service) expireIfHoldPassed(ctx context.Context, tx Tx, o *Order, now time.Time) (*expiryResult, error) {
	res, err := tx.ReservationByOrder(ctx, o.ID)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !now.After(res.HoldUntil) {
		return nil, nil
	}
	cell, err := tx.Cell(ctx, res.CellID)
	if err != nil {
		return nil, err
	}
	if err := s.releaseReservation(ctx, tx, res, now); err != nil {
		return nil, err
	}
	transitioned := o.Status == StatusReady
	if transitioned {
		o.Status = StatusExpired
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return nil, err
		}
	}
	return &expiryResult{cellCode: cell.Code, transitioned: transitioned}, nil
}
