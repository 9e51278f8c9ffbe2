package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

type queueResponse struct {
	OrderID      string              `json:"order_id"`
	Status       string              `json:"status"`
	ScheduledFor time.Time           `json:"scheduled_for"`
	Items        []canteen.QueueItem `json:"items"`
}

func (h *Handler) getQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCap(w, r, canteen.CapKitchen); !ok {
		return
	}
	entries, err := h.Svc.ListQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]queueResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, queueResponse{
			OrderID:      e.Order.ID,
			Status:       string(e.Order.Status),
			ScheduledFor: e.Order.ScheduledFor,
			Items:        e.Items,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) markInKitchen(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCap(w, r, canteen.CapKitchen); !ok {
		return
	}
	o, err := h.Svc.MarkInKitchen(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), o.ID, o.Status)
	writeJSON(w, http.StatusOK, map[string]string{"order_id": o.ID, "status": string(o.Status)})
}

type markReadyRequest struct {
	CellCode string `json:"cell_code,omitempty"`
}

func (h *Handler) markReady(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCap(w, r, canteen.CapKitchen); !ok {
		return
	}
	var req markReadyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
			return
		}
	}
	res, err := h.Svc.MarkReady(r.Context(), urlID(r), req.CellCode)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), res.OrderID, canteen.StatusReady)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) reissueCredential(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCap(w, r, canteen.CapKitchen); !ok {
		return
	}
	res, err := h.Svc.ReissueCredential(r.Context(), urlID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) releaseReservation(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireCap(w, r, canteen.CapKitchen); !ok {
		return
	}
	if err := h.Svc.ReleaseCellHold(r.Context(), urlID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
