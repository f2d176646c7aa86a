package membership

import (
	"errors"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
)

// ErrNotFound is returned by a Repository when no user matches.
var ErrNotFound = errors.New("user not found")

var (
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "invalid email or password")
	ErrEmailTaken         = apperr.New(apperr.KindConflict, "email already registered")
	ErrSuspended          = apperr.New(apperr.KindForbidden, "account is suspended")
	ErrRateLimited        = apperr.New(apperr.KindRateLimited, "too many attempts, try again later")
	ErrInvalidRole        = apperr.Validation("invalid role", "role must be one of [student staff admin]")
	ErrInvalidStatus      = apperr.Validation("invalid status", "status must be one of [active suspended]")
	ErrConcurrentUpdate   = apperr.New(apperr.KindConflict, "user was modified concurrently, retry the request")
)
