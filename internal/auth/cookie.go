package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const CookieName = "fileshelf_session"

type claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// Cookies persists Sessions client-side as HS256-signed JWT cookies.
type Cookies struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewCookies creates a cookie codec. An empty secret is replaced by 32
// random bytes, which invalidates sessions on restart.
func NewCookies(secret string, ttl time.Duration, secure bool) (*Cookies, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cookies{secret: key, ttl: ttl, secure: secure}, nil
}

// Load returns the session carried by r. Missing, expired or forged cookies
// yield the zero Session.
func (c *Cookies) Load(r *http.Request) Session {
	ck, err := r.Cookie(CookieName)
	if err != nil || ck.Value == "" {
		return Session{}
	}
	s, err := c.decode(ck.Value)
	if err != nil {
		return Session{}
	}
	return s
}

func (c *Cookies) decode(raw string) (Session, error) {
	var cl claims
	tok, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Session{}, err
	}
	if !tok.Valid {
		return Session{}, errors.New("invalid session token")
	}
	return Session{Admin: cl.Admin}, nil
}

func (c *Cookies) encode(s Session, now time.Time) (string, error) {
	cl := claims{
		Admin: s.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Save writes s to w as the session cookie.
func (c *Cookies) Save(w http.ResponseWriter, s Session) error {
	now := time.Now()
	v, err := c.encode(s, now)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    v,
		Path:     "/",
		Expires:  now.Add(c.ttl),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Middleware loads the session cookie into the request context.
func (c *Cookies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(WithSession(r.Context(), c.Load(r)))
		next.ServeHTTP(w, r)
	})
}
