package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/smartcanteen/locker-service/internal/canteen"
	"github.com/smartcanteen/locker-service/internal/redisx"
)

type createOrderRequest struct {
	LocationID   string                `json:"location_id"`
	Lines        []canteen.LineRequest `json:"lines"`
	ScheduledFor *time.Time            `json:"scheduled_for,omitempty"`
}

type lineResponse struct {
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
	UnitPrice  int    `json:"unit_price"`
	Comment    string `json:"comment,omitempty"`
}

type receiptResponse struct {
	ID     string                `json:"id"`
	Lines  []canteen.ReceiptLine `json:"lines"`
	Total  int                   `json:"total"`
	PaidAt time.Time             `json:"paid_at"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	LocationID       string              `json:"location_id"`
	Status           string              `json:"status"`
	ScheduledFor     time.Time           `json:"scheduled_for"`
	Total            int                 `json:"total"`
	PickupDeadlineAt *time.Time          `json:"pickup_deadline_at,omitempty"`
	ReadyAt          *time.Time          `json:"ready_at,omitempty"`
	PickedUpAt       *time.Time          `json:"picked_up_at,omitempty"`
	Lines            []lineResponse      `json:"lines"`
	Receipt          *receiptResponse    `json:"receipt,omitempty"`
	Pickup           *canteen.PickupInfo `json:"pickup,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

func toOrderResponse(v *canteen.OrderView) orderResponse {
	lines := make([]lineResponse, 0, len(v.Lines))
	for _, l := range v.Lines {
		lines = append(lines, lineResponse{
			MenuItemID: l.MenuItemID, Qty: l.Qty,
			UnitPrice: l.UnitPrice, Comment: l.Comment,
		})
	}
	resp := orderResponse{
		ID:               v.Order.ID,
		LocationID:       v.Order.LocationID,
		Status:           string(v.Order.Status),
		ScheduledFor:     v.Order.ScheduledFor,
		Total:            v.Order.Total,
		PickupDeadlineAt: v.Order.PickupDeadlineAt,
		ReadyAt:          v.Order.ReadyAt,
		PickedUpAt:       v.Order.PickedUpAt,
		Lines:            lines,
		Pickup:           v.Pickup,
		CreatedAt:        v.Order.CreatedAt,
	}
	if v.Receipt != nil {
		resp.Receipt = &receiptResponse{
			ID: v.Receipt.ID, Lines: v.Receipt.Lines,
			Total: v.Receipt.Total, PaidAt: v.Receipt.PaidAt,
		}
	}
	return resp
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	order, lines, err := h.Svc.CreateOrder(r.Context(), p.UserID, req.LocationID, req.Lines, req.ScheduledFor)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), order.ID, order.Status)
	writeJSON(w, http.StatusCreated, toOrderResponse(&canteen.OrderView{Order: *order, Lines: lines}))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.Svc.GetOrder(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if view.Order.UserID != p.UserID && !p.Can(canteen.CapKitchen) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	h.cacheStatus(r.Context(), view.Order.ID, view.Order.Status)
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

// getOrderStatus is the cheap polling endpoint: cache hit answers from redis,
// a miss falls through to the full read (which also refreshes the cache).
func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r); err != nil {
		writeError(w, err)
		return
	}
	id := urlID(r)
	if h.Redis != nil {
		if v, err := h.Redis.Get(r.Context(), fmt.Sprintf(redisx.KeyOrderStatus, id)).Result(); err == nil {
			writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": v})
			return
		}
	}
	view, err := h.Svc.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), id, view.Order.Status)
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": string(view.Order.Status)})
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := h.Svc.ListUserOrders(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(views))
	for i := range views {
		out = append(out, toOrderResponse(&views[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type fakePaymentRequest struct {
	OrderID string `json:"order_id"`
}

// fakePayment is the stand-in payment provider: it confirms immediately and
// returns the receipt.
func (h *Handler) fakePayment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r); err != nil {
		writeError(w, err)
		return
	}
	var req fakePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	receipt, err := h.Svc.ConfirmPayment(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), req.OrderID, canteen.StatusPaid)
	writeJSON(w, http.StatusOK, receiptResponse{
		ID: receipt.ID, Lines: receipt.Lines,
		Total: receipt.Total, PaidAt: receipt.PaidAt,
	})
}

func (h *Handler) cacheStatus(ctx context.Context, orderID string, st canteen.Status) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := h.Redis.Set(ctx, key, string(st), redisx.TTLStatusCache).Err(); err != nil {
		log.Printf("redis: cache status %s: %v", orderID, err)
	}
}
