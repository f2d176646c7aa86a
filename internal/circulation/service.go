// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/notify"
)

// Service defines the interface for the circulation service.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*Transaction, error)
	Return(ctx context.Context, req ReturnRequest) (*Transaction, error)
	Renew(ctx context.Context, req RenewRequest) (*Transaction, error)
	PayFine(ctx context.Context, req PayFineRequest) (*Transaction, error)
	MarkLost(ctx context.Context, req LostRequest) (*Transaction, error)

	Get(ctx context.Context, id uuid.UUID, actor auth.Principal) (*Transaction, error)
	List(ctx context.Context, filter ListFilter) (*Page, error)
	Overdue(ctx context.Context, page, limit int) (*Page, error)
	DueSoon(ctx context.Context, days, page, limit int) (*Page, error)
	Stats(ctx context.Context) (*Stats, error)
	History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)

	// MarkOverdue flips issued transactions past their due date to overdue.
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	// SendOverdueNotices notifies each overdue borrower at most once per calendar day.
	SendOverdueNotices(ctx context.Context, now time.Time) (int, error)
	// SendDueReminders notifies borrowers whose loans fall due within withinDays, once per due date.
	SendDueReminders(ctx context.Context, now time.Time, withinDays int) (int, error)
}

// Notifier delivers borrower notifications. Notify is fire-and-forget; Send reports the outcome.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice)
	Send(ctx context.Context, n notify.Notice) error
}

type IssueRequest struct {
	BorrowerID uuid.UUID
	BookID     uuid.UUID
	IssuedBy   uuid.UUID
	Condition  Condition
	Notes      string
}

type ReturnRequest struct {
	TransactionID uuid.UUID
	Condition     Condition
	Notes         string
	// Actor is the caller; students may only return their own transactions.
	Actor auth.Principal
}

type RenewRequest struct {
	TransactionID uuid.UUID
	Actor         auth.Principal
}

type PayFineRequest struct {
	TransactionID uuid.UUID
	// Amount defaults to the full fine when nil.
	Amount     *decimal.Decimal
	ReceivedBy uuid.UUID
}

type LostRequest struct {
	TransactionID uuid.UUID
	Actor         auth.Principal
	Notes         string
}
