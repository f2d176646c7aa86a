package circulation

import (
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
)

var (
	ErrNotStudent          = apperr.Validation("only students can borrow books")
	ErrNotApproved         = apperr.New(apperr.KindForbidden, "borrower is not approved")
	ErrBookUnavailable     = apperr.New(apperr.KindConflict, "book is not available")
	ErrBorrowLimitReached  = apperr.New(apperr.KindConflict, "borrow limit reached")
	ErrDuplicateLoan       = apperr.New(apperr.KindConflict, "borrower already has this book")
	ErrOutstandingFine     = apperr.New(apperr.KindConflict, "borrower has an unpaid fine")
	ErrAlreadyReturned     = apperr.New(apperr.KindConflict, "transaction already returned")
	ErrNotReturnable       = apperr.New(apperr.KindConflict, "transaction cannot be returned")
	ErrNotRenewable        = apperr.New(apperr.KindConflict, "only issued transactions can be renewed")
	ErrRenewalLimitReached = apperr.New(apperr.KindConflict, "renewal limit reached")
	ErrNoFine              = apperr.New(apperr.KindConflict, "transaction has no fine")
	ErrFineAlreadyPaid     = apperr.New(apperr.KindConflict, "fine already paid")
	ErrNotLosable          = apperr.New(apperr.KindConflict, "only active transactions can be marked lost")
	ErrForbidden           = apperr.New(apperr.KindForbidden, "transaction belongs to another borrower")
	ErrConcurrentUpdate    = apperr.New(apperr.KindConflict, "transaction was modified concurrently")
	ErrInvalidCondition    = apperr.Validation("invalid condition", "condition must be one of excellent, good, fair, poor, damaged")
	ErrInvalidAmount       = apperr.Validation("invalid payment amount", "amount must be positive and not exceed the fine")
	ErrInvalidStatus       = apperr.Validation("invalid status filter")
)
