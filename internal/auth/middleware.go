package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/web"
)

var (
	errMissingToken = apperr.New(apperr.KindUnauthorized, "missing bearer token")
	errBadToken     = apperr.New(apperr.KindUnauthorized, "invalid or expired token")
	errRole         = apperr.New(apperr.KindForbidden, "insufficient role")
)

// Middleware rejects requests without a valid bearer token and stores the principal in the
// request context.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			web.Error(w, r, errMissingToken)
			return
		}

		p, err := t.Parse(token)
		if err != nil {
			web.Error(w, r, errBadToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole allows the request through only when the principal has one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				web.Error(w, r, errMissingToken)
				return
			}
			if !slices.Contains(roles, p.Role) {
				web.Error(w, r, errRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaff is RequireRole for staff and admins.
func RequireStaff(next http.Handler) http.Handler {
	return RequireRole(RoleStaff, RoleAdmin)(next)
}
