package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/smartcanteen/locker-service/internal/canteen"
)

// claim is the locker terminal endpoint. It is unauthenticated: possession of
// a valid token or order+PIN pair is the proof.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	var req canteen.ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	res, err := h.Svc.ClaimPickup(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(r.Context(), res.OrderID, canteen.StatusPickedUp)
	writeJSON(w, http.StatusOK, res)
}
