// Package httpapi implements the operator-facing HTTP surface described
// in spec.md §4.8 and §6: narrative state inspection, config push,
// accessibility/preset administration, CSV/analytics export, and
// transcript serving.
//
// Route construction follows cmd/server/main.go's Handler() shape
// (net/http.ServeMux with Go 1.22+ method-and-path patterns).
package httpapi

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/watrall/echotrace-whispering-objects/internal/config"
)

// BasicAuth is HTTP Basic Auth middleware over environment-sourced
// credentials, adapted from internal/auth.Middleware's wrapping shape
// and fail-secure-on-empty-credential discipline — swapped from bearer
// token equality to HTTP Basic with a constant-time comparison, per
// spec.md §4.8 and §7's AuthFailure handling.
type BasicAuth struct {
	enabled bool
	user    string
	pass    string
}

// NewBasicAuth builds a BasicAuth from cfg. When cfg.RequireBasicAuth is
// false, the returned middleware lets every request through.
func NewBasicAuth(cfg config.SecurityConfig) *BasicAuth {
	if !cfg.RequireBasicAuth {
		return &BasicAuth{enabled: false}
	}
	return &BasicAuth{
		enabled: true,
		user:    os.Getenv(cfg.AdminUserEnv),
		pass:    os.Getenv(cfg.AdminPassEnv),
	}
}

// RequireAuthFunc wraps next so that requests without valid Basic
// credentials receive a 401 with the expected challenge header instead
// of reaching next.
func (a *BasicAuth) RequireAuthFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.isAuthenticated(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="EchoTrace"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (a *BasicAuth) isAuthenticated(r *http.Request) bool {
	if !a.enabled {
		return true
	}
	// Fail secure: an admin user/pass that was never configured (empty
	// env var) must never compare equal to an empty supplied credential.
	if a.user == "" || a.pass == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.pass)) == 1
	return userOK && passOK
}
