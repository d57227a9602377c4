package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnauthenticated = errors.New("api: missing or invalid bearer token")
	errForbidden       = errors.New("api: caller may not act for this player")
)

// Claims identify the caller. Guests have no profile and are never rated.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Guest  bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator mints and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

func (a *Authenticator) Mint(userID, name string, guest bool, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("api: user id required")
	}
	now := a.now()
	claims := Claims{
		UserID: userID,
		Name:   strings.TrimSpace(name),
		Guest:  guest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return nil, errUnauthenticated
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, errUnauthenticated
	}
	return claims, nil
}

// fromRequest reads the bearer token from the Authorization header, or from
// the token query parameter for WebSocket upgrades.
func (a *Authenticator) fromRequest(r *http.Request) (*Claims, error) {
	tok := ""
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return nil, errUnauthenticated
		}
		tok = strings.TrimSpace(rest)
	} else {
		tok = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if tok == "" {
		return nil, errUnauthenticated
	}
	return a.Parse(tok)
}

type callerKey struct{}

func withCaller(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// Caller returns the authenticated claims stored on ctx.
func Caller(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(callerKey{}).(*Claims)
	return c, ok && c != nil
}
