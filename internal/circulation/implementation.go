// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/membership"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/notify"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/telemetry"
)

// service implements the Service interface.
type service struct {
	store    Store
	notifier Notifier
	rules    Rules
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *service) { s.metrics = m }
}

// NewService creates a new circulation service instance.
func NewService(store Store, notifier Notifier, rules Rules, opts ...Option) (Service, error) {
	if err := rules.validate(); err != nil {
		return nil, fmt.Errorf("invalid lending rules: %w", err)
	}

	s := &service{
		store:    store,
		notifier: notifier,
		rules:    rules,
		logger:   slog.Default(),
		tracer:   otel.Tracer("library/circulation"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue lends a copy of a book to an approved student.
func (s *service) Issue(ctx context.Context, req IssueRequest) (_ *Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.issue",
		trace.WithAttributes(
			attribute.String("borrower.id", req.BorrowerID.String()),
			attribute.String("book.id", req.BookID.String()),
		),
	)
	defer func() { s.finish(ctx, span, "issue", err) }()

	condition := req.Condition
	if condition == "" {
		condition = ConditionGood
	}
	if !condition.Valid() {
		return nil, ErrInvalidCondition
	}

	now := s.now()
	var (
		t        *Transaction
		borrower *Borrower
		book     *Book
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if borrower, err = tx.Borrower(ctx, req.BorrowerID); err != nil {
			return notFound(err, "borrower", req.BorrowerID)
		}
		if borrower.Role != auth.RoleStudent {
			return ErrNotStudent
		}
		if !borrower.Approved || borrower.Status != membership.StatusActive {
			return ErrNotApproved
		}

		if book, err = tx.Book(ctx, req.BookID); err != nil {
			return notFound(err, "book", req.BookID)
		}
		if !book.Available() {
			return ErrBookUnavailable
		}

		active, err := tx.CountActiveLoans(ctx, borrower.ID)
		if err != nil {
			return err
		}
		if active >= s.rules.MaxActiveLoans {
			return ErrBorrowLimitReached
		}

		duplicate, err := tx.HasActiveLoan(ctx, borrower.ID, book.ID)
		if err != nil {
			return err
		}
		if duplicate {
			return ErrDuplicateLoan
		}

		unpaid, err := tx.HasUnpaidFine(ctx, borrower.ID)
		if err != nil {
			return err
		}
		if unpaid {
			return ErrOutstandingFine
		}

		t = &Transaction{
			ID:               uuid.New(),
			BorrowerID:       borrower.ID,
			BookID:           book.ID,
			IssuedBy:         req.IssuedBy,
			IssueDate:        now,
			DueDate:          now.AddDate(0, 0, s.rules.LoanPeriodDays),
			Status:           StatusIssued,
			Renewals:         Renewals{},
			ConditionAtIssue: condition,
			Notes:            strings.TrimSpace(req.Notes),
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Insert(ctx, t); err != nil {
			return err
		}

		reserved, err := tx.ReserveCopy(ctx, book.ID)
		if err != nil {
			return err
		}
		if !reserved {
			return ErrBookUnavailable
		}

		added, err := tx.AddLoan(ctx, borrower.ID, s.rules.MaxActiveLoans)
		if err != nil {
			return err
		}
		if !added {
			return ErrBorrowLimitReached
		}

		return s.appendEvent(ctx, tx, t.ID, 0, req.IssuedBy, EventTransactionIssued, TransactionIssuedEvent{
			TransactionID: t.ID,
			BorrowerID:    t.BorrowerID,
			BookID:        t.BookID,
			DueDate:       t.DueDate,
		})
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("transaction.id", t.ID.String()))
	s.notify(ctx, notify.KindIssued, t, borrower, book)
	return t, nil
}

// Return checks a copy back in and assesses the overdue fine.
func (s *service) Return(ctx context.Context, req ReturnRequest) (_ *Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("transaction.id", req.TransactionID.String())),
	)
	defer func() { s.finish(ctx, span, "return", err) }()

	condition := req.Condition
	if condition == "" {
		condition = ConditionGood
	}
	if !condition.Valid() {
		return nil, ErrInvalidCondition
	}

	now := s.now()
	var (
		t        *Transaction
		borrower *Borrower
		book     *Book
		fine     decimal.Decimal
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if t, err = tx.Transaction(ctx, req.TransactionID); err != nil {
			return notFound(err, "transaction", req.TransactionID)
		}
		if err := authorize(req.Actor, t); err != nil {
			return err
		}
		switch t.Status {
		case StatusReturned:
			return ErrAlreadyReturned
		case StatusLost, StatusDamaged:
			return ErrNotReturnable
		case StatusIssued, StatusOverdue:
		default:
			return fmt.Errorf("transaction %s has unknown status %q", t.ID, t.Status)
		}

		expected := t.Version
		fine = CalculateFine(t.DueDate, now, s.rules.FinePerDay)
		returnedBy := req.Actor.UserID

		t.Status = StatusReturned
		t.ReturnDate = &now
		t.ActualReturnDate = &now
		t.ReturnedBy = &returnedBy
		t.ConditionAtReturn = condition
		t.Notes = appendNote(t.Notes, req.Notes)
		t.UpdatedAt = now
		if fine.IsPositive() {
			t.Fine.Amount = fine
			t.Fine.Reason = FineOverdue
		}
		if err := tx.Update(ctx, t); err != nil {
			return err
		}

		released, err := tx.ReleaseCopy(ctx, t.BookID)
		if err != nil {
			return err
		}
		if !released {
			s.logger.WarnContext(ctx, "returned copy exceeds book total, stock left unchanged",
				"transaction_id", t.ID, "book_id", t.BookID)
		}
		if err := tx.SettleLoan(ctx, t.BorrowerID, fine); err != nil {
			return err
		}

		if borrower, err = tx.Borrower(ctx, t.BorrowerID); err != nil {
			return notFound(err, "borrower", t.BorrowerID)
		}
		if book, err = tx.Book(ctx, t.BookID); err != nil {
			return notFound(err, "book", t.BookID)
		}

		return s.appendEvent(ctx, tx, t.ID, expected, returnedBy, EventTransactionReturned, TransactionReturnedEvent{
			TransactionID: t.ID,
			ReturnDate:    now,
			Condition:     condition,
			Fine:          fine,
		})
	})
	if err != nil {
		return nil, err
	}

	if fine.IsPositive() {
		s.metrics.RecordFine(ctx, string(FineOverdue), fine.InexactFloat64())
	}
	s.notify(ctx, notify.KindReturned, t, borrower, book)
	return t, nil
}

// Renew extends the due date of an issued transaction.
func (s *service) Renew(ctx context.Context, req RenewRequest) (_ *Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.renew",
		trace.WithAttributes(attribute.String("transaction.id", req.TransactionID.String())),
	)
	defer func() { s.finish(ctx, span, "renew", err) }()

	now := s.now()
	var (
		t        *Transaction
		borrower *Borrower
		book     *Book
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if t, err = tx.Transaction(ctx, req.TransactionID); err != nil {
			return notFound(err, "transaction", req.TransactionID)
		}
		if err := authorize(req.Actor, t); err != nil {
			return err
		}
		// A loan past its due date is overdue even before the sweep has flipped its status.
		if t.Status != StatusIssued || t.IsOverdueAt(now) {
			return ErrNotRenewable
		}
		if t.RenewalCount >= s.rules.MaxRenewals {
			return ErrRenewalLimitReached
		}
		if t.Fine.Outstanding() {
			return ErrOutstandingFine
		}

		expected := t.Version
		renewal := Renewal{
			OldDueDate: t.DueDate,
			NewDueDate: now.AddDate(0, 0, s.rules.LoanPeriodDays),
			RenewedBy:  req.Actor.UserID,
			RenewedAt:  now,
		}
		t.Renewals = append(t.Renewals, renewal)
		t.RenewalCount++
		t.DueDate = renewal.NewDueDate
		t.UpdatedAt = now
		if err := tx.Update(ctx, t); err != nil {
			return err
		}

		if borrower, err = tx.Borrower(ctx, t.BorrowerID); err != nil {
			return notFound(err, "borrower", t.BorrowerID)
		}
		if book, err = tx.Book(ctx, t.BookID); err != nil {
			return notFound(err, "book", t.BookID)
		}

		return s.appendEvent(ctx, tx, t.ID, expected, req.Actor.UserID, EventTransactionRenewed, TransactionRenewedEvent{
			TransactionID: t.ID,
			OldDueDate:    renewal.OldDueDate,
			NewDueDate:    renewal.NewDueDate,
			RenewalCount:  t.RenewalCount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.KindRenewed, t, borrower, book)
	return t, nil
}

// PayFine settles the fine of a transaction. The borrower's lifetime fine total is kept.
func (s *service) PayFine(ctx context.Context, req PayFineRequest) (_ *Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.pay_fine",
		trace.WithAttributes(attribute.String("transaction.id", req.TransactionID.String())),
	)
	defer func() { s.finish(ctx, span, "pay_fine", err) }()

	now := s.now()
	var t *Transaction
	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if t, err = tx.Transaction(ctx, req.TransactionID); err != nil {
			return notFound(err, "transaction", req.TransactionID)
		}
		if !t.Fine.Amount.IsPositive() {
			return ErrNoFine
		}
		if t.Fine.Paid {
			return ErrFineAlreadyPaid
		}

		amount := t.Fine.Amount
		if req.Amount != nil {
			if !req.Amount.IsPositive() || req.Amount.GreaterThan(t.Fine.Amount) {
				return ErrInvalidAmount
			}
			amount = *req.Amount
		}

		expected := t.Version
		t.Fine.Paid = true
		t.Fine.PaidDate = &now
		t.Fine.PaidAmount = amount
		t.UpdatedAt = now
		if err := tx.Update(ctx, t); err != nil {
			return err
		}

		return s.appendEvent(ctx, tx, t.ID, expected, req.ReceivedBy, EventFinePaid, FinePaidEvent{
			TransactionID: t.ID,
			Amount:        amount,
			ReceivedBy:    req.ReceivedBy,
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MarkLost writes off an active transaction. The copy leaves the collection and the borrower is
// charged the overdue fine so far plus the lost book fee.
func (s *service) MarkLost(ctx context.Context, req LostRequest) (_ *Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.mark_lost",
		trace.WithAttributes(attribute.String("transaction.id", req.TransactionID.String())),
	)
	defer func() { s.finish(ctx, span, "mark_lost", err) }()

	now := s.now()
	var (
		t        *Transaction
		borrower *Borrower
		book     *Book
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		if t, err = tx.Transaction(ctx, req.TransactionID); err != nil {
			return notFound(err, "transaction", req.TransactionID)
		}
		if !t.Status.IsActive() {
			return ErrNotLosable
		}

		expected := t.Version
		fine := CalculateFine(t.DueDate, now, s.rules.FinePerDay).Add(s.rules.LostBookFee)
		t.Status = StatusLost
		t.Fine = Fine{Amount: fine, Reason: FineLost}
		t.Notes = appendNote(t.Notes, req.Notes)
		t.UpdatedAt = now
		if err := tx.Update(ctx, t); err != nil {
			return err
		}

		removed, err := tx.RemoveCopy(ctx, t.BookID)
		if err != nil {
			return err
		}
		if !removed {
			s.logger.WarnContext(ctx, "lost copy is not on loan according to stock, stock left unchanged",
				"transaction_id", t.ID, "book_id", t.BookID)
		}
		if err := tx.SettleLoan(ctx, t.BorrowerID, fine); err != nil {
			return err
		}

		if borrower, err = tx.Borrower(ctx, t.BorrowerID); err != nil {
			return notFound(err, "borrower", t.BorrowerID)
		}
		if book, err = tx.Book(ctx, t.BookID); err != nil {
			return notFound(err, "book", t.BookID)
		}

		return s.appendEvent(ctx, tx, t.ID, expected, req.Actor.UserID, EventTransactionLost, TransactionLostEvent{
			TransactionID: t.ID,
			Fine:          fine,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFine(ctx, string(FineLost), t.Fine.Amount.InexactFloat64())
	s.notify(ctx, notify.KindLost, t, borrower, book)
	return t, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, actor auth.Principal) (*Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	if err := authorize(actor, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) (*Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	txs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return newPage(txs, total, filter.Page, filter.Limit), nil
}

// Overdue lists active transactions past their due date, including those the sweep has not
// flipped yet.
func (s *service) Overdue(ctx context.Context, page, limit int) (*Page, error) {
	page, limit = normalizePage(page, limit)
	txs, total, err := s.store.ListOverdue(ctx, s.now(), page, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue transactions: %w", err)
	}
	return newPage(txs, total, page, limit), nil
}

// DueSoon lists issued transactions due within days. Zero or less uses the reminder window.
func (s *service) DueSoon(ctx context.Context, days, page, limit int) (*Page, error) {
	if days <= 0 {
		days = s.rules.ReminderDays
	}
	page, limit = normalizePage(page, limit)

	now := s.now()
	txs, total, err := s.store.ListDueBetween(ctx, now, now.AddDate(0, 0, days), page, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions due soon: %w", err)
	}
	return newPage(txs, total, page, limit), nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.store.Stats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("circulation stats: %w", err)
	}
	return stats, nil
}

// History returns the audit events of a transaction.
func (s *service) History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, notFound(err, "transaction", id)
	}
	events, err := s.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return events, nil
}

func (s *service) appendEvent(ctx context.Context, tx Tx, id uuid.UUID, expected int, actor uuid.UUID, eventType string, data any) error {
	event, err := eventstore.NewEvent(eventType, data)
	if err != nil {
		return err
	}
	if actor != uuid.Nil {
		event = event.WithActor(actor)
	}
	if err := tx.AppendEvent(ctx, id, expected, event); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return ErrConcurrentUpdate
		}
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func (s *service) notify(ctx context.Context, kind notify.Kind, t *Transaction, borrower *Borrower, book *Book) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Notice{
		Kind:          kind,
		TransactionID: t.ID,
		Email:         borrower.Email,
		Name:          borrower.Name,
		BookTitle:     book.Title,
		IssueDate:     t.IssueDate,
		DueDate:       t.DueDate,
		ReturnDate:    t.ReturnDate,
		Fine:          t.Fine.Amount,
	})
}

func (s *service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.metrics.RecordOperation(ctx, operation, err)
	span.End()
}

// authorize lets staff act on any transaction and students only on their own.
func authorize(actor auth.Principal, t *Transaction) error {
	if actor.Role.IsStaff() || actor.UserID == t.BorrowerID {
		return nil
	}
	return ErrForbidden
}

func notFound(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound(entity, id)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return existing
	case existing == "":
		return note
	default:
		return existing + "\n" + note
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func newPage(txs []Transaction, total, page, limit int) *Page {
	if txs == nil {
		txs = []Transaction{}
	}
	return &Page{Transactions: txs, Total: total, Page: page, Limit: limit}
}
