package webchat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/go-go-golems/pawfect/pkg/chat"
	"github.com/go-go-golems/pawfect/pkg/persistence/chatstore"
)

// RefreshCookieName is the HttpOnly cookie carrying the refresh token.
const RefreshCookieName = "refresh_token"

const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT body of both access and refresh tokens.
type Claims struct {
	UserID int64     `json:"uid"`
	Role   chat.Role `json:"role"`
	Kind   string    `json:"kind"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

func (ti *TokenIssuer) IssueAccess(p Principal) (string, error) {
	tok, _, err := ti.issue(p, tokenKindAccess, ti.accessTTL)
	return tok, err
}

func (ti *TokenIssuer) IssueRefresh(p Principal) (string, time.Time, error) {
	return ti.issue(p, tokenKindRefresh, ti.refreshTTL)
}

func (ti *TokenIssuer) issue(p Principal, kind string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: p.UserID,
		Role:   p.Role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "sign %s token", kind)
	}
	return signed, exp, nil
}

// Parse verifies a token of the given kind and returns its principal.
func (ti *TokenIssuer) Parse(token, kind string) (Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return Principal{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Kind != kind || claims.UserID <= 0 || !claims.Role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// bearerToken reads "Authorization: Bearer <token>". With allowQuery the token
// query parameter is accepted too, for websocket clients that cannot set headers.
func bearerToken(r *http.Request, allowQuery bool) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// RequireAuth rejects requests without a valid access token and stores the
// principal in the request context.
func (ti *TokenIssuer) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r, false)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := ti.Parse(tok, tokenKindAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EnsureAdmin creates the admin account if no user with that email exists.
func EnsureAdmin(ctx context.Context, store chatstore.Store, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if password == "" {
		return errors.New("admin password is empty")
	}
	_, err := store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, chatstore.ErrNotFound) {
		return errors.Wrap(err, "look up admin")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	u, err := store.CreateUser(ctx, chatstore.NewUser{
		FirstName:    "Admin",
		Email:        email,
		PasswordHash: hash,
		Role:         chat.RoleAdmin,
	})
	if err != nil {
		return errors.Wrap(err, "create admin")
	}
	log.Info().Str("component", "webchat").Int64("user_id", u.UserID).Str("email", u.Email).Msg("seeded admin account")
	return nil
}
