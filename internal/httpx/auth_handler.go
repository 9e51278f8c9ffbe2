package httpx

import (
	"encoding/json"
	"net/http"
)

type loginRequest struct {
	Login string `json:"login"`
	PIN   string `json:"pin"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	token, p, err := h.Auth.Login(r.Context(), req.Login, req.PIN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: p.UserID, Role: string(p.Role)})
}
