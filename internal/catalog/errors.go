package catalog

import (
	"errors"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
)

// ErrNotFound is returned by a Repository when no book has the requested ID.
var ErrNotFound = errors.New("book not found")

var (
	ErrInvalidCopies    = apperr.Validation("total copies cannot be less than the copies on loan", "total_copies must cover the copies on loan")
	ErrDuplicateISBN    = apperr.New(apperr.KindConflict, "a book with this ISBN already exists")
	ErrRetired          = apperr.New(apperr.KindConflict, "book is retired")
	ErrConcurrentUpdate = apperr.New(apperr.KindConflict, "book was modified concurrently, retry the request")
	ErrEmptyQuery       = apperr.Validation("search query is required", "q is required")
)
