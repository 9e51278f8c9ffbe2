package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/smartcanteen/locker-service/internal/auth"
	"github.com/smartcanteen/locker-service/internal/canteen"
)

// Handler exposes the boundary operations over HTTP. Redis is optional and
// only feeds the order-status cache.
type Handler struct {
	Svc   *canteen.Service
	Auth  *auth.Service
	Redis *redis.Client
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/auth/login", h.login)
	r.Get("/menu", h.getMenu)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listMyOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/payments/fake", h.fakePayment)

	r.Get("/cook/orders/queue", h.getQueue)
	r.Post("/cook/orders/{id}/kitchen", h.markInKitchen)
	r.Post("/cook/orders/{id}/ready", h.markReady)
	r.Post("/cook/orders/{id}/credential", h.reissueCredential)
	r.Post("/cook/reservations/{id}/release", h.releaseReservation)

	r.Post("/pickup/claim", h.claim)

	r.Put("/admin/availability", h.setAvailability)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": errCode(err)})
}

func errStatus(err error) int {
	if ce, ok := canteen.AsClaimError(err); ok {
		if ce.Code == canteen.ClaimInvalidToken {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, canteen.ErrOrderNotFound),
		errors.Is(err, canteen.ErrItemNotFound),
		errors.Is(err, canteen.ErrLocationNotFound),
		errors.Is(err, canteen.ErrReservationNotFound),
		errors.Is(err, canteen.ErrCellNotFound):
		return http.StatusNotFound
	case errors.Is(err, canteen.ErrNoFreeCells),
		errors.Is(err, canteen.ErrCellOccupied):
		return http.StatusConflict
	case errors.Is(err, canteen.ErrLocationClosed):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, canteen.ErrInvalidOrderStatus),
		errors.Is(err, canteen.ErrItemUnavailable),
		errors.Is(err, canteen.ErrScheduledTimeInvalid),
		errors.Is(err, canteen.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errCode(err error) string {
	if ce, ok := canteen.AsClaimError(err); ok {
		return string(ce.Code)
	}
	switch {
	case errors.Is(err, canteen.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, canteen.ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, canteen.ErrItemUnavailable):
		return "item_unavailable"
	case errors.Is(err, canteen.ErrScheduledTimeInvalid):
		return "scheduled_time_invalid"
	case errors.Is(err, canteen.ErrInvalidOrderStatus):
		return "invalid_order_status"
	case errors.Is(err, canteen.ErrNoFreeCells):
		return "no_free_cells"
	case errors.Is(err, canteen.ErrCellOccupied):
		return "cell_occupied"
	case errors.Is(err, canteen.ErrLocationNotFound):
		return "location_not_found"
	case errors.Is(err, canteen.ErrLocationClosed):
		return "location_closed"
	case errors.Is(err, canteen.ErrReservationNotFound):
		return "reservation_not_found"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrNoSession):
		return "unauthorized"
	case errors.Is(err, canteen.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}

// principal resolves the bearer token; the value is then passed explicitly
// into whatever the handler calls.
func (h *Handler) principal(r *http.Request) (canteen.Principal, error) {
	hdr := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(hdr, "Bearer ")
	if !ok {
		return canteen.Principal{}, auth.ErrNoSession
	}
	return h.Auth.Principal(r.Context(), token)
}

func (h *Handler) requireCap(w http.ResponseWriter, r *http.Request, c canteen.Capability) (canteen.Principal, bool) {
	p, err := h.principal(r)
	if err != nil {
		writeError(w, err)
		return p, false
	}
	if !p.Can(c) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return p, false
	}
	return p, true
}

func urlID(r *http.Request) string { return chi.URLParam(r, "id") }
