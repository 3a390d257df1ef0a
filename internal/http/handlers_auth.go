package httpx

import (
	"net/http"

	"github.com/ibb-transit/crowdcast/internal/service"
)

// AuthHandlers serves the operator login endpoint.
type AuthHandlers struct {
	Auth *service.AuthService
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /auth/login: exchanges credentials for a bearer token.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, token)
}
