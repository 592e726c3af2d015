// Package identity extracts caller identity for session ownership and audit.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/parcelworks/kbassist/internal/domain"
)

// Identity headers set by the authenticating proxy in front of this service.
const (
	HeaderEmail    = "X-User-Email"
	HeaderName     = "X-User-Name"
	HeaderCompany  = "X-User-Company"
	HeaderDivision = "X-User-Division"
)

type contextKey int

const userKey contextKey = iota

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// FromContext extracts the caller identity from the request context.
// The zero identity means no valid identity headers were present.
func FromContext(ctx context.Context) domain.UserIdentity {
	if v, ok := ctx.Value(userKey).(domain.UserIdentity); ok {
		return v
	}
	return domain.UserIdentity{}
}

// WithIdentity attaches an identity to a context. Exposed for handler tests.
func WithIdentity(ctx context.Context, user domain.UserIdentity) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func fromHeaders(r *http.Request) domain.UserIdentity {
	email := strings.TrimSpace(strings.ToLower(r.Header.Get(HeaderEmail)))
	if !emailPattern.MatchString(email) {
		return domain.UserIdentity{}
	}
	return domain.UserIdentity{
		Email:    email,
		Name:     strings.TrimSpace(r.Header.Get(HeaderName)),
		Company:  strings.TrimSpace(r.Header.Get(HeaderCompany)),
		Division: strings.TrimSpace(r.Header.Get(HeaderDivision)),
	}
}

// Middleware injects the caller identity into the request context. Requests
// without a valid email header pass through with a zero identity; handlers
// that require one reject those themselves.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := fromHeaders(r)
			if user.Email == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), user)))
		})
	}
}
