package webchat

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
)

const minPasswordLength = 8

type registerRequest struct {
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	Address       string  `json:"address"`
	Birthdate     string  `json:"birthdate"`
	Sex           string  `json:"sex"`
	MonthlySalary float64 `json:"monthly_salary"`
}

func (r registerRequest) validate() string {
	switch {
	case strings.TrimSpace(r.FirstName) == "":
		return "first name is required"
	case strings.TrimSpace(r.LastName) == "":
		return "last name is required"
	case !strings.Contains(r.Email, "@"):
		return "a valid email is required"
	case len(r.Password) < minPasswordLength:
		return "password must be at least 8 characters"
	case r.MonthlySalary < 0:
		return "monthly salary cannot be negative"
	}
	return ""
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	User        *chat.User `json:"user,omitempty"`
}

// handleRegister creates a pet owner account. The role in the body, if any, is
// ignored: admins are only seeded from configuration.
func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeStoreError(w, err, "register")
		return
	}
	u, err := h.store.CreateUser(r.Context(), chatstore.NewUser{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		PasswordHash:  hash,
		Role:          chat.RolePetOwner,
		Address:       req.Address,
		Birthdate:     req.Birthdate,
		Sex:           req.Sex,
		MonthlySalary: req.MonthlySalary,
	})
	if err != nil {
		writeStoreError(w, err, "register")
		return
	}
	log.Info().Str("component", "webchat").Int64("user_id", u.UserID).Msg("registered user")
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !checkPassword(rec.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	p := Principal{UserID: rec.UserID, Role: rec.Role}
	access, ok := h.issueTokens(w, p)
	if !ok {
		return
	}
	u := rec.User
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, User: &u})
}

// handleRefresh trades the refresh cookie for a new access token and rotates the
// cookie.
func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	p, err := h.tokens.Parse(c.Value, tokenKindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	if _, err := h.store.GetUserByID(r.Context(), p.UserID); err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	access, ok := h.issueTokens(w, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	u, err := h.store.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeStoreError(w, err, "user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// issueTokens signs an access token and sets a fresh refresh cookie. On failure
// it has already written the response.
func (h *Handlers) issueTokens(w http.ResponseWriter, p Principal) (string, bool) {
	access, err := h.tokens.IssueAccess(p)
	if err != nil {
		writeStoreError(w, err, "issue token")
		return "", false
	}
	refresh, exp, err := h.tokens.IssueRefresh(p)
	if err != nil {
		writeStoreError(w, err, "issue token")
		return "", false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(time.Until(exp).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return access, true
}
