package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

type menuRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Price     int    `json:"price"`
	Available bool   `json:"available"`
	StockQty  *int   `json:"stock_qty,omitempty"`
}

func (h *Handler) getMenu(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("location_id")
	if locationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "location_id required"})
		return
	}
	listings, err := h.Svc.Menu(r.Context(), locationID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]menuRow, 0, len(listings))
	for _, l := range listings {
		out = append(out, menuRow{
			ID: l.Item.ID, Name: l.Item.Name, Category: l.Item.Category,
			Price: l.Item.Price, Available: l.Available, StockQty: l.StockQty,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type availabilityRequest struct {
	LocationID string `json:"location_id"`
	MenuItemID string `json:"menu_item_id"`
	Available  bool   `json:"available"`
	StockQty   *int   `json:"stock_qty,omitempty"`
}

func (h *Handler) setAvailability(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCap(w, r, canteen.CapAdmin); !ok {
		return
	}
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	err := h.Svc.SetAvailability(r.Context(), canteen.Availability{
		LocationID: req.LocationID,
		MenuItemID: req.MenuItemID,
		Available:  req.Available,
		StockQty:   req.StockQty,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
