package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store persists transactions. Lifecycle changes run through InTx so that the transaction row,
// book stock, borrower counters and audit event commit or roll back together.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Get(ctx context.Context, id uuid.UUID) (*Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]Transaction, int, error)
	ListOverdue(ctx context.Context, now time.Time, page, limit int) ([]Transaction, int, error)
	ListDueBetween(ctx context.Context, from, to time.Time, page, limit int) ([]Transaction, int, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
	History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)

	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	OverdueTargets(ctx context.Context) ([]NoticeTarget, error)
	ReminderTargets(ctx context.Context, from, to time.Time) ([]NoticeTarget, error)
	// ClaimNotice records a notice for the day and reports whether this call created the record.
	ClaimNotice(ctx context.Context, id uuid.UUID, kind string, on time.Time) (bool, error)
	ReleaseNotice(ctx context.Context, id uuid.UUID, kind string, on time.Time) error
	// ClaimReminder sets the reminder flag and reports whether it was previously unset.
	ClaimReminder(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseReminder(ctx context.Context, id uuid.UUID) error
}

// Tx is the unit of work for one lifecycle operation. Counter changes are conditional updates;
// the bool results report whether the condition held.
type Tx interface {
	Borrower(ctx context.Context, id uuid.UUID) (*Borrower, error)
	Book(ctx context.Context, id uuid.UUID) (*Book, error)
	// Transaction loads a transaction and locks it until the unit of work ends.
	Transaction(ctx context.Context, id uuid.UUID) (*Transaction, error)

	CountActiveLoans(ctx context.Context, borrowerID uuid.UUID) (int, error)
	HasActiveLoan(ctx context.Context, borrowerID, bookID uuid.UUID) (bool, error)
	HasUnpaidFine(ctx context.Context, borrowerID uuid.UUID) (bool, error)

	// ReserveCopy decrements available copies while any remain.
	ReserveCopy(ctx context.Context, bookID uuid.UUID) (bool, error)
	// ReleaseCopy increments available copies while below the total.
	ReleaseCopy(ctx context.Context, bookID uuid.UUID) (bool, error)
	// RemoveCopy drops a copy that is out on loan from the collection.
	RemoveCopy(ctx context.Context, bookID uuid.UUID) (bool, error)
	// AddLoan increments the borrower's loan count while below max.
	AddLoan(ctx context.Context, borrowerID uuid.UUID, max int) (bool, error)
	// SettleLoan decrements the loan count, floored at zero, and accrues fine.
	SettleLoan(ctx context.Context, borrowerID uuid.UUID, fine decimal.Decimal) error

	Insert(ctx context.Context, t *Transaction) error
	// Update writes t if its version is unchanged and bumps the version. A stale version
	// yields ErrConcurrentUpdate.
	Update(ctx context.Context, t *Transaction) error
	AppendEvent(ctx context.Context, id uuid.UUID, expectedVersion int, event eventstore.Event) error
}
