// Package auth guards the HTTP surface with Basic authentication against
// bcrypt password hashes.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// UserCredentials maps usernames to bcrypt password hashes.
type UserCredentials map[string]string

type contextKey int

const ctxUser contextKey = iota

// dummyHash is compared against when the username is unknown so that the
// response time does not reveal which usernames exist.
var dummyHash = mustHash("mdpreview-timing-equalizer")

func mustHash(password string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	return h
}

// RequestUser returns the authenticated username from the context, or "".
func RequestUser(ctx context.Context) string {
	v, _ := ctx.Value(ctxUser).(string)
	return v
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(h), nil
}

// Middleware returns HTTP middleware that requires Basic credentials
// matching one of users. With no users configured every request passes
// through unchanged. Repeated failures from one IP are rejected with 429
// until the failure window expires.
func Middleware(users UserCredentials, logger *slog.Logger) func(http.Handler) http.Handler {
	if len(users) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := newLoginRateLimiter()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if wait, limited := limiter.blocked(ip); limited {
				logger.Warn("auth: rate limited",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
				http.Error(w, "Too many failed attempts", http.StatusTooManyRequests)

				return
			}

			user, password, ok := r.BasicAuth()
			if !ok {
				logger.Debug("auth: no credentials",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				unauthorized(w)

				return
			}

			hash, known := users[user]
			if !known {
				_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			}

			if !known || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
				limiter.record(ip)
				logger.Warn("auth: invalid credentials",
					slog.String("ip", ip),
					slog.String("user", user),
				)
				unauthorized(w)

				return
			}

			limiter.reset(ip)

			ctx := context.WithValue(r.Context(), ctxUser, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="mdpreview", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
