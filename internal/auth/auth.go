package auth

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Session is the per-client admin state. It travels in the request context
// and is handed to handlers explicitly; nothing global is mutated.
type Session struct {
	Admin bool
}

type ctxKey string

const sessionKey ctxKey = "fileshelf.session"

func SessionFromContext(ctx context.Context) Session {
	v, _ := ctx.Value(sessionKey).(Session)
	return v
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// HashPassword returns the SHA-512 hex digest stored as pass_hash.
func HashPassword(pass string) string {
	sum := sha512.Sum512([]byte(pass))
	return hex.EncodeToString(sum[:])
}

// HashPasswordBcrypt returns a bcrypt pass_hash.
func HashPasswordBcrypt(pass string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pass), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether pass matches stored. stored is either a
// bcrypt hash or a SHA-512 hex digest; the digest is decoded (either hex case
// is accepted) and compared as raw bytes in constant time. An empty stored
// hash never matches.
func CheckPassword(stored, pass string) bool {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(pass)) == nil
	}
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != sha512.Size {
		return false
	}
	got := sha512.Sum512([]byte(pass))
	return subtle.ConstantTimeCompare(want, got[:]) == 1
}
