package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/postgres"
)

var transactionColumns = []any{
	"id", "borrower_id", "book_id", "issued_by", "returned_by",
	"issue_date", "due_date", "return_date", "actual_return_date", "status",
	"fine_amount", "fine_reason", "fine_paid", "fine_paid_date", "fine_paid_amount",
	"renewal_count", "renewals", "condition_at_issue", "condition_at_return",
	"notes", "reminder_sent", "version", "created_at", "updated_at",
}

const selectTransaction = `
	SELECT id, borrower_id, book_id, issued_by, returned_by,
	       issue_date, due_date, return_date, actual_return_date, status,
	       fine_amount, fine_reason, fine_paid, fine_paid_date, fine_paid_amount,
	       renewal_count, renewals, condition_at_issue, condition_at_return,
	       notes, reminder_sent, version, created_at, updated_at
	FROM transactions`

type transactionRow struct {
	ID                uuid.UUID       `db:"id"`
	BorrowerID        uuid.UUID       `db:"borrower_id"`
	BookID            uuid.UUID       `db:"book_id"`
	IssuedBy          uuid.UUID       `db:"issued_by"`
	ReturnedBy        uuid.NullUUID   `db:"returned_by"`
	IssueDate         time.Time       `db:"issue_date"`
	DueDate           time.Time       `db:"due_date"`
	ReturnDate        sql.NullTime    `db:"return_date"`
	ActualReturnDate  sql.NullTime    `db:"actual_return_date"`
	Status            string          `db:"status"`
	FineAmount        decimal.Decimal `db:"fine_amount"`
	FineReason        string          `db:"fine_reason"`
	FinePaid          bool            `db:"fine_paid"`
	FinePaidDate      sql.NullTime    `db:"fine_paid_date"`
	FinePaidAmount    decimal.Decimal `db:"fine_paid_amount"`
	RenewalCount      int             `db:"renewal_count"`
	Renewals          Renewals        `db:"renewals"`
	ConditionAtIssue  string          `db:"condition_at_issue"`
	ConditionAtReturn string          `db:"condition_at_return"`
	Notes             string          `db:"notes"`
	ReminderSent      bool            `db:"reminder_sent"`
	Version           int             `db:"version"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r transactionRow) toTransaction() Transaction {
	t := Transaction{
		ID:         r.ID,
		BorrowerID: r.BorrowerID,
		BookID:     r.BookID,
		IssuedBy:   r.IssuedBy,
		IssueDate:  r.IssueDate,
		DueDate:    r.DueDate,
		Status:     Status(r.Status),
		Fine: Fine{
			Amount:     r.FineAmount,
			Reason:     FineReason(r.FineReason),
			Paid:       r.FinePaid,
			PaidAmount: r.FinePaidAmount,
		},
		RenewalCount:      r.RenewalCount,
		Renewals:          r.Renewals,
		ConditionAtIssue:  Condition(r.ConditionAtIssue),
		ConditionAtReturn: Condition(r.ConditionAtReturn),
		Notes:             r.Notes,
		ReminderSent:      r.ReminderSent,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.ReturnedBy.Valid {
		id := r.ReturnedBy.UUID
		t.ReturnedBy = &id
	}
	t.ReturnDate = nullTime(r.ReturnDate)
	t.ActualReturnDate = nullTime(r.ActualReturnDate)
	t.Fine.PaidDate = nullTime(r.FinePaidDate)
	if t.Renewals == nil {
		t.Renewals = Renewals{}
	}
	return t
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func toTransactions(rows []transactionRow) []Transaction {
	txs := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, r.toTransaction())
	}
	return txs
}

// PostgresStore is the Postgres implementation of Store.
type PostgresStore struct {
	db     *sqlx.DB
	events *eventstore.Store
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *sqlx.DB, events *eventstore.Store) *PostgresStore {
	return &PostgresStore{db: db, events: events}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&pgTx{tx: tx, events: s.events})
	})
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, s.db, &row, selectTransaction+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	t := row.toTransaction()
	var notices []struct {
		Kind   string    `db:"kind"`
		SentOn time.Time `db:"sent_on"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &notices, `
		SELECT kind, sent_on
		FROM transaction_notices
		WHERE transaction_id = $1
		ORDER BY sent_on, kind
	`, id); err != nil {
		return nil, fmt.Errorf("get transaction notices: %w", err)
	}
	for _, n := range notices {
		t.Notices = append(t.Notices, Notice{Kind: n.Kind, SentOn: n.SentOn})
	}
	return &t, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	where := goqu.Ex{}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	if filter.BorrowerID != uuid.Nil {
		where["borrower_id"] = filter.BorrowerID
	}
	if filter.BookID != uuid.Nil {
		where["book_id"] = filter.BookID
	}
	return s.page(ctx, where, goqu.C("issue_date").Desc(), filter.Page, filter.Limit)
}

func (s *PostgresStore) ListOverdue(ctx context.Context, now time.Time, page, limit int) ([]Transaction, int, error) {
	where := goqu.Or(
		goqu.C("status").Eq(string(StatusOverdue)),
		goqu.And(
			goqu.C("status").Eq(string(StatusIssued)),
			goqu.C("due_date").Lt(now),
		),
	)
	return s.page(ctx, where, goqu.C("due_date").Asc(), page, limit)
}

func (s *PostgresStore) ListDueBetween(ctx context.Context, from, to time.Time, page, limit int) ([]Transaction, int, error) {
	where := goqu.Ex{
		"status":   string(StatusIssued),
		"due_date": goqu.Op{"between": exp.NewRangeVal(from, to)},
	}
	return s.page(ctx, where, goqu.C("due_date").Asc(), page, limit)
}

func (s *PostgresStore) page(ctx context.Context, where exp.Expression, order exp.OrderedExpression, page, limit int) ([]Transaction, int, error) {
	base := postgres.Dialect.From("transactions").Where(where)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, s.db, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query, args, err := base.
		Select(transactionColumns...).
		Order(order, goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(postgres.Offset(page, limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return toTransactions(rows), total, nil
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{ByStatus: map[Status]int{}}

	var byStatus []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, s.db, &byStatus,
		`SELECT status, COUNT(*) AS count FROM transactions GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[Status(row.Status)] = row.Count
	}

	var totals struct {
		Active    int             `db:"active"`
		Overdue   int             `db:"overdue"`
		Total     decimal.Decimal `db:"total_fines"`
		Unpaid    decimal.Decimal `db:"unpaid_fines"`
		Collected decimal.Decimal `db:"collected_fines"`
	}
	if err := sqlx.GetContext(ctx, s.db, &totals, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('issued', 'overdue')) AS active,
			COUNT(*) FILTER (WHERE status = 'overdue' OR (status = 'issued' AND due_date < $1)) AS overdue,
			COALESCE(SUM(fine_amount), 0) AS total_fines,
			COALESCE(SUM(fine_amount) FILTER (WHERE NOT fine_paid), 0) AS unpaid_fines,
			COALESCE(SUM(fine_paid_amount), 0) AS collected_fines
		FROM transactions
	`, now); err != nil {
		return nil, fmt.Errorf("sum fines: %w", err)
	}

	stats.Active = totals.Active
	stats.Overdue = totals.Overdue
	stats.TotalFines = totals.Total
	stats.UnpaidFines = totals.Unpaid
	stats.CollectedFines = totals.Collected
	return stats, nil
}

func (s *PostgresStore) History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	return s.events.Load(ctx, s.db, id, 1, 0)
}

func (s *PostgresStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = 'overdue', updated_at = $1
		WHERE status = 'issued' AND due_date < $1 AND return_date IS NULL
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type targetRow struct {
	transactionRow
	BorrowerEmail string `db:"borrower_email"`
	BorrowerName  string `db:"borrower_name"`
	BookTitle     string `db:"book_title"`
}

const selectTargets = `
	SELECT t.id, t.borrower_id, t.book_id, t.issued_by, t.returned_by,
	       t.issue_date, t.due_date, t.return_date, t.actual_return_date, t.status,
	       t.fine_amount, t.fine_reason, t.fine_paid, t.fine_paid_date, t.fine_paid_amount,
	       t.renewal_count, t.renewals, t.condition_at_issue, t.condition_at_return,
	       t.notes, t.reminder_sent, t.version, t.created_at, t.updated_at,
	       u.email AS borrower_email, u.name AS borrower_name, b.title AS book_title
	FROM transactions t
	JOIN users u ON u.id = t.borrower_id
	JOIN books b ON b.id = t.book_id`

func (s *PostgresStore) OverdueTargets(ctx context.Context) ([]NoticeTarget, error) {
	return s.targets(ctx, selectTargets+` WHERE t.status = 'overdue' ORDER BY t.due_date`)
}

func (s *PostgresStore) ReminderTargets(ctx context.Context, from, to time.Time) ([]NoticeTarget, error) {
	return s.targets(ctx, selectTargets+`
		WHERE t.status = 'issued' AND NOT t.reminder_sent AND t.due_date BETWEEN $1 AND $2
		ORDER BY t.due_date`, from, to)
}

func (s *PostgresStore) targets(ctx context.Context, query string, args ...any) ([]NoticeTarget, error) {
	var rows []targetRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, err
	}
	targets := make([]NoticeTarget, 0, len(rows))
	for _, r := range rows {
		targets = append(targets, NoticeTarget{
			Transaction:   r.toTransaction(),
			BorrowerEmail: r.BorrowerEmail,
			BorrowerName:  r.BorrowerName,
			BookTitle:     r.BookTitle,
		})
	}
	return targets, nil
}

func (s *PostgresStore) ClaimNotice(ctx context.Context, id uuid.UUID, kind string, on time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_notices (transaction_id, kind, sent_on)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, id, kind, on.Format(time.DateOnly))
	return affectedOne(res, err)
}

func (s *PostgresStore) ReleaseNotice(ctx context.Context, id uuid.UUID, kind string, on time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transaction_notices
		WHERE transaction_id = $1 AND kind = $2 AND sent_on = $3
	`, id, kind, on.Format(time.DateOnly))
	return err
}

func (s *PostgresStore) ClaimReminder(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET reminder_sent = TRUE
		WHERE id = $1 AND NOT reminder_sent AND status = 'issued'
	`, id)
	return affectedOne(res, err)
}

func (s *PostgresStore) ReleaseReminder(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE transactions SET reminder_sent = FALSE WHERE id = $1`, id)
	return err
}

// pgTx implements Tx over a database transaction.
type pgTx struct {
	tx     *sqlx.Tx
	events *eventstore.Store
}

func (p *pgTx) Borrower(ctx context.Context, id uuid.UUID) (*Borrower, error) {
	var b Borrower
	err := p.tx.GetContext(ctx, &b, `
		SELECT id, email, name, role, approved, status, currently_borrowed, total_fines
		FROM users
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *pgTx) Book(ctx context.Context, id uuid.UUID) (*Book, error) {
	var b Book
	err := p.tx.GetContext(ctx, &b, `
		SELECT id, title, total_copies, available_copies, status
		FROM books
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *pgTx) Transaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	var row transactionRow
	err := p.tx.GetContext(ctx, &row, selectTransaction+` WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t := row.toTransaction()
	return &t, nil
}

func (p *pgTx) CountActiveLoans(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	var n int
	err := p.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM transactions
		WHERE borrower_id = $1 AND status IN ('issued', 'overdue')
	`, borrowerID)
	return n, err
}

func (p *pgTx) HasActiveLoan(ctx context.Context, borrowerID, bookID uuid.UUID) (bool, error) {
	var exists bool
	err := p.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE borrower_id = $1 AND book_id = $2 AND status IN ('issued', 'overdue')
		)
	`, borrowerID, bookID)
	return exists, err
}

func (p *pgTx) HasUnpaidFine(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	var exists bool
	err := p.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE borrower_id = $1 AND fine_amount > 0 AND NOT fine_paid
		)
	`, borrowerID)
	return exists, err
}

func (p *pgTx) ReserveCopy(ctx context.Context, bookID uuid.UUID) (bool, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND available_copies > 0
	`, bookID)
	return affectedOne(res, err)
}

func (p *pgTx) ReleaseCopy(ctx context.Context, bookID uuid.UUID) (bool, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = NOW()
		WHERE id = $1 AND available_copies < total_copies
	`, bookID)
	return affectedOne(res, err)
}

func (p *pgTx) RemoveCopy(ctx context.Context, bookID uuid.UUID) (bool, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE books
		SET total_copies = total_copies - 1, updated_at = NOW()
		WHERE id = $1 AND total_copies > available_copies
	`, bookID)
	return affectedOne(res, err)
}

func (p *pgTx) AddLoan(ctx context.Context, borrowerID uuid.UUID, max int) (bool, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE users
		SET currently_borrowed = currently_borrowed + 1, updated_at = NOW()
		WHERE id = $1 AND currently_borrowed < $2
	`, borrowerID, max)
	return affectedOne(res, err)
}

func (p *pgTx) SettleLoan(ctx context.Context, borrowerID uuid.UUID, fine decimal.Decimal) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE users
		SET currently_borrowed = GREATEST(currently_borrowed - 1, 0),
		    total_fines = total_fines + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, borrowerID, fine)
	return err
}

func (p *pgTx) Insert(ctx context.Context, t *Transaction) error {
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, borrower_id, book_id, issued_by, issue_date, due_date, status,
			renewal_count, renewals, condition_at_issue, notes, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.ID, t.BorrowerID, t.BookID, t.IssuedBy, t.IssueDate, t.DueDate, string(t.Status),
		t.RenewalCount, t.Renewals, string(t.ConditionAtIssue), t.Notes, t.Version, t.CreatedAt, t.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateLoan
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *pgTx) Update(ctx context.Context, t *Transaction) error {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE transactions
		SET returned_by = $3, due_date = $4, return_date = $5, actual_return_date = $6, status = $7,
		    fine_amount = $8, fine_reason = $9, fine_paid = $10, fine_paid_date = $11, fine_paid_amount = $12,
		    renewal_count = $13, renewals = $14, condition_at_return = $15, notes = $16,
		    reminder_sent = $17, updated_at = $18, version = version + 1
		WHERE id = $1 AND version = $2
	`, t.ID, t.Version, t.ReturnedBy, t.DueDate, t.ReturnDate, t.ActualReturnDate, string(t.Status),
		t.Fine.Amount, string(t.Fine.Reason), t.Fine.Paid, t.Fine.PaidDate, t.Fine.PaidAmount,
		t.RenewalCount, t.Renewals, string(t.ConditionAtReturn), t.Notes,
		t.ReminderSent, t.UpdatedAt)
	ok, err := affectedOne(res, err)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if !ok {
		return ErrConcurrentUpdate
	}
	t.Version++
	return nil
}

func (p *pgTx) AppendEvent(ctx context.Context, id uuid.UUID, expectedVersion int, event eventstore.Event) error {
	return p.events.Append(ctx, p.tx, id, eventstore.AggregateTransaction, expectedVersion, event)
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
