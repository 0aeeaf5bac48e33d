package chatclient

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

const (
	PathLogin    = "/users/login"
	PathRegister = "/users/register"
	PathRefresh  = "/users/refresh"
	PathLogout   = "/users/logout"
	PathMe       = "/users/me"
)

// ErrNotAuthenticated is returned when an operation needs a logged-in session.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenResponse is the body of login and refresh responses.
type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	User        *chat.User `json:"user,omitempty"`
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Email           string    `json:"email"`
	Password        string    `json:"password"`
	ConfirmPassword string    `json:"-"`
	Address         string    `json:"address,omitempty"`
	Birthdate       string    `json:"birthdate,omitempty"`
	Sex             string    `json:"sex,omitempty"`
	MonthlySalary   float64   `json:"monthly_salary,omitempty"`
	Role            chat.Role `json:"role"`
}

// Validate checks the fields the backend requires and the password confirmation.
func (r RegisterRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.FirstName) == "":
		return errors.New("first name is required")
	case strings.TrimSpace(r.LastName) == "":
		return errors.New("last name is required")
	case !strings.Contains(r.Email, "@"):
		return errors.New("a valid email is required")
	case len(r.Password) < 8:
		return errors.New("password must be at least 8 characters")
	case r.Password != r.ConfirmPassword:
		return errors.New("passwords do not match")
	}
	return nil
}

// Session holds the bearer credential in memory and renews it on 401. The
// refresh credential is an HttpOnly cookie kept in the session's cookie jar.
type Session struct {
	baseURL string
	plain   *http.Client
	authed  *http.Client

	mu    sync.RWMutex
	token string
	user  *chat.User

	renewals singleflight.Group
	onLogout func()
}

type SessionOption func(*Session)

// WithRoundTripper replaces the underlying transport (tests use httptest clients).
func WithRoundTripper(rt http.RoundTripper) SessionOption {
	return func(s *Session) {
		s.plain.Transport = rt
	}
}

// WithOnLogout registers a hook fired after every local logout.
func WithOnLogout(fn func()) SessionOption {
	return func(s *Session) { s.onLogout = fn }
}

func NewSession(baseURL string, opts ...SessionOption) (*Session, error) {
	if baseURL == "" {
		return nil, errors.New("base url is empty")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "cookie jar")
	}
	s := &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		plain:   &http.Client{Jar: jar, Transport: http.DefaultTransport},
	}
	for _, o := range opts {
		o(s)
	}
	s.authed = &http.Client{
		Jar:       jar,
		Transport: &authTransport{session: s, next: s.plain.Transport},
	}
	return s, nil
}

func (s *Session) BaseURL() string { return s.baseURL }

// HTTPClient returns a client that attaches the bearer credential and renews it once on 401.
func (s *Session) HTTPClient() *http.Client { return s.authed }

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the logged-in user, or false.
func (s *Session) User() (chat.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return chat.User{}, false
	}
	return *s.user, true
}

// Login authenticates with email and password.
func (s *Session) Login(ctx context.Context, email, password string) (chat.User, error) {
	var tr TokenResponse
	err := doJSON(ctx, s.plain, http.MethodPost, s.baseURL+PathLogin, map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	}, &tr)
	if err != nil {
		return chat.User{}, errors.Wrap(err, "login")
	}
	if tr.AccessToken == "" || tr.User == nil {
		return chat.User{}, errors.New("login: response carries no token or user")
	}
	s.mu.Lock()
	s.token = tr.AccessToken
	u := *tr.User
	s.user = &u
	s.mu.Unlock()
	log.Info().Str("component", "session").Int64("user_id", u.UserID).Str("role", string(u.Role)).Msg("logged in")
	return u, nil
}

// Register creates a pet owner account. It does not log in.
func (s *Session) Register(ctx context.Context, req RegisterRequest) (chat.User, error) {
	if err := req.Validate(); err != nil {
		return chat.User{}, err
	}
	req.Role = chat.RolePetOwner
	var u chat.User
	if err := doJSON(ctx, s.plain, http.MethodPost, s.baseURL+PathRegister, req, &u); err != nil {
		return chat.User{}, errors.Wrap(err, "register")
	}
	return u, nil
}

// Resume restores a session from the refresh cookie alone and loads the user.
func (s *Session) Resume(ctx context.Context) (chat.User, error) {
	if _, err := s.renew(ctx, s.Token()); err != nil {
		return chat.User{}, err
	}
	u, err := NewAPIClient(s.baseURL, s.authed).Me(ctx)
	if err != nil {
		return chat.User{}, err
	}
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	return u, nil
}

// Logout tells the backend to drop the refresh cookie (best effort) and clears local state.
func (s *Session) Logout(ctx context.Context) {
	if err := doJSON(ctx, s.authed, http.MethodPost, s.baseURL+PathLogout, struct{}{}, nil); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("logout request failed")
	}
	s.logoutLocal()
}

func (s *Session) logoutLocal() {
	s.mu.Lock()
	wasIn := s.token != "" || s.user != nil
	s.token = ""
	s.user = nil
	hook := s.onLogout
	s.mu.Unlock()
	if wasIn && hook != nil {
		hook()
	}
}

// renew exchanges the refresh cookie for a new access token. Concurrent callers
// share one request, and a caller whose token was already replaced by another
// renewal takes that token instead. On failure the session is logged out.
func (s *Session) renew(ctx context.Context, used string) (string, error) {
	v, err, _ := s.renewals.Do("refresh", func() (interface{}, error) {
		if current := s.Token(); current != "" && current != used {
			return current, nil
		}
		var tr TokenResponse
		if err := doJSON(ctx, s.plain, http.MethodPost, s.baseURL+PathRefresh, struct{}{}, &tr); err != nil {
			return "", err
		}
		if tr.AccessToken == "" {
			return "", errors.New("refresh response carries no token")
		}
		s.mu.Lock()
		s.token = tr.AccessToken
		if tr.User != nil {
			u := *tr.User
			s.user = &u
		}
		s.mu.Unlock()
		return tr.AccessToken, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("token renewal failed, logging out")
		s.logoutLocal()
		return "", errors.Wrap(err, "renew access token")
	}
	return v.(string), nil
}

type authTransport struct {
	session *Session
	next    http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	used := t.session.Token()
	resp, err := t.next.RoundTrip(withBearer(req, used))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !renewable(req) {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	token, err := t.session.renew(req.Context(), used)
	if err != nil {
		return nil, err
	}

	retry := withBearer(req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "rewind request body")
		}
		retry.Body = body
	}
	return t.next.RoundTrip(retry)
}

func withBearer(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
	}
	return r
}

func renewable(req *http.Request) bool {
	p := req.URL.Path
	return !strings.HasSuffix(p, PathRefresh) && !strings.HasSuffix(p, PathLogin)
}
