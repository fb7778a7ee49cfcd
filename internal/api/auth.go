package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/harborview/seo-reporter/internal/auth"
	"github.com/harborview/seo-reporter/internal/db"
)

var verifier = emailverifier.NewVerifier()

const minPasswordLength = 8

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// AuthRegisterRequest represents a user registration request
type AuthRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// AuthLoginRequest represents a login request
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned on successful login or registration.
type SessionResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      *db.User `json:"user"`
}

// AuthRegister handles POST /v1/auth/register
func (h *Handler) AuthRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req AuthRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		BadRequest(w, r, "email and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		BadRequest(w, r, "password must be at least 8 characters")
		return
	}

	result, err := verifier.Verify(req.Email)
	if err != nil {
		log.Warn().Err(err).Msg("Email verifier failed")
	} else if !result.Syntax.Valid {
		BadRequest(w, r, "email address is not valid")
		return
	}

	if existing, err := h.DB.GetUserByEmail(r.Context(), req.Email); err == nil && existing != nil {
		BadRequest(w, r, "An account with this email already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		InternalError(w, r, err)
		return
	}

	user := &db.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         db.RoleClient,
		IsActive:     true,
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		user.FullName = &name
	}
	if err := h.DB.CreateUser(r.Context(), user); err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Str("email", req.Email).Msg("Failed to create user")
		InternalError(w, r, err)
		return
	}

	session, token, err := h.startSession(r, user)
	if err != nil {
		InternalError(w, r, err)
		return
	}

	WriteCreated(w, r, SessionResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
		User:      user,
	}, "User registered successfully")
}

// AuthLogin handles POST /v1/auth/login
func (h *Handler) AuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	var req AuthLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		BadRequest(w, r, "email and password are required")
		return
	}

	// Identical failure response for unknown email and bad password, so
	// login attempts can't probe which accounts exist.
	user, err := h.DB.GetUserByEmail(r.Context(), req.Email)
	valid := false
	if err == nil && user.IsActive {
		valid, _ = auth.VerifyPassword(req.Password, user.PasswordHash)
	}
	if !valid {
		Unauthorised(w, r, "Invalid email or password")
		return
	}

	session, token, err := h.startSession(r, user)
	if err != nil {
		InternalError(w, r, err)
		return
	}

	log.Info().Str("user_id", user.ID).Msg("User logged in")

	WriteSuccess(w, r, SessionResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
		User:      user,
	}, "Logged in")
}

// AuthLogout handles POST /v1/auth/logout
func (h *Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	} else if cookie, err := r.Cookie("session"); err == nil {
		token = cookie.Value
	}
	if token == "" {
		Unauthorised(w, r, "No session to log out")
		return
	}

	if err := h.DB.DeleteSession(r.Context(), auth.HashToken(token)); err != nil {
		log.Debug().Err(err).Msg("Logout for unknown session")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	WriteNoContent(w, r)
}

// startSession issues an opaque token and stores its hash.
func (h *Handler) startSession(r *http.Request, user *db.User) (*db.Session, string, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, "", err
	}

	session := &db.Session{
		TokenHash: auth.HashToken(token),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(auth.DefaultSessionTTL),
	}
	if err := h.DB.CreateSession(r.Context(), session); err != nil {
		return nil, "", err
	}
	return session, token, nil
}
