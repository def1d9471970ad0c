// Package auth is the shared-password session gate in front of every
// conversation route.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const CookieName = "voiceloop_session"

var (
	ErrBadPassword = errors.New("auth: wrong password")
	ErrThrottled   = errors.New("auth: too many attempts")
)

// Gate checks a shared password and issues signed session cookies. A gate with
// an empty password lets everything through.
type Gate struct {
	password string
	ttl      time.Duration
	secret   []byte
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewGate(password string, ttl time.Duration) (*Gate, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generate secret: %w", err)
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Gate{
		password: password,
		ttl:      ttl,
		secret:   secret,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(6 * time.Second),
		burst:    5,
	}, nil
}

func (g *Gate) Enabled() bool { return g.password != "" }

// Login checks password for the client at ip and returns the session cookie.
func (g *Gate) Login(password, ip string) (*http.Cookie, error) {
	if !g.limiter(ip).Allow() {
		return nil, ErrThrottled
	}
	if !g.passwordOK(password) {
		return nil, ErrBadPassword
	}
	exp := g.now().Add(g.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "voiceloop",
		IssuedAt:  jwt.NewNumericDate(g.now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign session: %w", err)
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// LogoutCookie clears the session cookie.
func LogoutCookie() *http.Cookie {
	return &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, SameSite: http.SameSiteLaxMode}
}

// Authorized reports whether r carries a valid session cookie or the password
// itself (bearer token, X-Auth-Token header or password query parameter).
func (g *Gate) Authorized(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	if r == nil {
		return false
	}
	if c, err := r.Cookie(CookieName); err == nil && g.validToken(c.Value) {
		return true
	}
	return checkAuthHeaderOrQuery(r, g.passwordOK)
}

// Middleware rejects unauthorized requests with 401.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !g.Authorized(c.Request()) {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

func (g *Gate) validToken(raw string) bool {
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(g.now), jwt.WithExpirationRequired())
	return err == nil && tok.Valid
}

func (g *Gate) passwordOK(p string) bool {
	return g.password != "" && subtle.ConstantTimeCompare([]byte(p), []byte(g.password)) == 1
}

func (g *Gate) limiter(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[ip]
	if !ok {
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[ip] = l
	}
	return l
}

func checkAuthHeaderOrQuery(r *http.Request, ok func(string) bool) bool {
	if q := r.URL.Query().Get("password"); q != "" && ok(q) {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if ok(strings.TrimSpace(ah[len("Bearer "):])) {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && ok(x) {
		return true
	}
	return false
}
