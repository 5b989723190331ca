package httpapi

import (
	"errors"
	"net/http"
	"time"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/obs"
	"clientdesk.org/internal/security"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Captcha  string `json:"captcha"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
}

type recoveryRequest struct {
	Email   string `json:"email"`
	Captcha string `json:"captcha"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.deps.Login == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login unavailable")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.deps.Login.Login(r.Context(), account.LoginRequest{
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.Captcha,
		IP:           a.ips.ClientIP(r),
	})
	if err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		UserID:    res.User.ID,
		Role:      string(res.User.Role),
	})
}

func (a *API) handlePasswordRecovery(w http.ResponseWriter, r *http.Request) {
	if a.deps.Recovery == nil {
		writeError(w, r, http.StatusServiceUnavailable, "password recovery unavailable")
		return
	}
	var req recoveryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Recovery.Request(r.Context(), req.Email, a.ips.ClientIP(r), req.Captcha); err != nil {
		a.handleAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (a *API) handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	if te, ok := security.AsThrottle(err); ok {
		writeThrottle(w, r, te)
		return
	}
	switch {
	case errors.Is(err, account.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	default:
		obs.FromContext(r.Context()).WithError(err).Error("account request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
