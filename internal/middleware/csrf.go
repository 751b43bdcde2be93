package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
)

const CSRFFieldName = "newsletter_csrf"

// CSRF protects form posts. JSON API requests are exempt; browsers cannot
// send them cross-site without a CORS preflight.
func CSRF(authKey []byte, secure bool, trustedOrigins []string) func(http.Handler) http.Handler {
	protect := csrf.Protect(
		authKey,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.FieldName(CSRFFieldName),
		csrf.TrustedOrigins(trustedOrigins),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				next.ServeHTTP(w, r)
				return
			}
			if !secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// CSRFToken returns the token for r, or "" when protection is off.
func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}
