package handler

import (
	"encoding/json"
	"net/http"

	"github.com/forkful/gateway/internal/domain/auth"
	"github.com/forkful/gateway/internal/respond"
	"github.com/forkful/gateway/internal/session"
)

// Refresh token cookie parameters. The cookie is scoped to the auth
// endpoints so it never rides along on proxied traffic it cannot be used
// for.
const (
	refreshCookieName   = "refresh_token"
	refreshCookiePath   = "/api/auth"
	refreshCookieMaxAge = 7 * 24 * 60 * 60
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// sessionResponse is the success payload of login and refresh.
type sessionResponse struct {
	User        sessionUser `json:"user"`
	AccessToken string      `json:"accessToken"`
}

type sessionUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Register creates an account and dispatches the verification email.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.issuer.Register(r.Context(), session.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}); err != nil {
		respond.AuthError(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]string{
		"message": "Registration successful, please verify your email address",
	})
}

// Login verifies credentials and opens a session: a JWT in the body, the
// refresh token as an HttpOnly cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	login := req.Login
	if login == "" {
		login = req.Username
	}

	creds, err := h.issuer.Login(r.Context(), login, req.Password)
	if err != nil {
		respond.AuthError(w, r, err)
		return
	}

	h.writeSession(w, creds)
}

// Refresh rotates the refresh token presented in the cookie and returns a
// fresh session.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		respond.AuthError(w, r, auth.BadRequest("Invalid or expired refresh token"))
		return
	}

	creds, err := h.issuer.Refresh(r.Context(), cookie.Value)
	if err != nil {
		respond.AuthError(w, r, err)
		return
	}

	h.writeSession(w, creds)
}

// Logout revokes the presented refresh token and clears the cookie. Both
// steps are idempotent.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if err := h.issuer.Logout(r.Context(), cookie.Value); err != nil {
			respond.AuthError(w, r, err)
			return
		}
	}
	clearRefreshCookie(w)
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// VerifyEmail consumes an email verification token.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.issuer.VerifyEmail(r.Context(), req.Token); err != nil {
		respond.AuthError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Email address verified"})
}

// ForgotPassword dispatches a password reset token. The response does not
// reveal whether the address exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		respond.AuthError(w, r, auth.BadRequest("Email is required"))
		return
	}

	if err := h.issuer.RequestPasswordReset(r.Context(), req.Email); err != nil {
		respond.AuthError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address exists, a reset email has been sent",
	})
}

// ResetPassword consumes a reset token, replaces the password, and revokes
// every session of the account.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.issuer.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respond.AuthError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

// DeleteAccount revokes every session of the authenticated user and proxies
// the deletion to the user service, which owns the account data.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFrom(r.Context())
	if !ok {
		respond.AuthError(w, r, auth.Unauthorized("Session token required"))
		return
	}

	if err := h.issuer.RevokeAll(r.Context(), sess.UserID); err != nil {
		respond.AuthError(w, r, err)
		return
	}
	clearRefreshCookie(w)

	h.forwarder.Forward(w, r, h.cfg.UserServiceURL, "/api/users/"+sess.UserID, nil)
}

// writeSession sets the rotating refresh cookie and writes the session
// payload.
func (h *Handler) writeSession(w http.ResponseWriter, creds *session.Credentials) {
	setRefreshCookie(w, creds.RefreshToken)
	respond.JSON(w, http.StatusOK, sessionResponse{
		User: sessionUser{
			ID:       creds.UserID,
			Username: creds.Username,
			Role:     creds.Role,
		},
		AccessToken: creds.AccessToken,
	})
}

func setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   refreshCookieMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// decodeJSON decodes the request body into dst, answering a BadRequest
// envelope and returning false on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respond.Error(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
