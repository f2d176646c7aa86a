// internal/circulation/domain.go
package circulation

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/catalog"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusReturned Status = "returned"
	StatusOverdue  Status = "overdue"
	StatusLost     Status = "lost"
	StatusDamaged  Status = "damaged"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIssued, StatusReturned, StatusOverdue, StatusLost, StatusDamaged:
		return true
	}
	return false
}

// IsActive reports whether the copy is still out with the borrower.
func (s Status) IsActive() bool {
	return s == StatusIssued || s == StatusOverdue
}

// Condition is the physical state of a copy.
type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionDamaged   Condition = "damaged"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	}
	return false
}

// FineReason says why a fine was assessed.
type FineReason string

const (
	FineNone    FineReason = ""
	FineOverdue FineReason = "overdue"
	FineDamage  FineReason = "damage"
	FineLost    FineReason = "lost"
	FineOther   FineReason = "other"
)

// Fine is the penalty attached to a transaction.
type Fine struct {
	Amount     decimal.Decimal `json:"amount"`
	Reason     FineReason      `json:"reason,omitempty"`
	Paid       bool            `json:"paid"`
	PaidDate   *time.Time      `json:"paid_date,omitempty"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
}

// Outstanding reports whether the fine still has to be paid.
func (f Fine) Outstanding() bool {
	return f.Amount.IsPositive() && !f.Paid
}

// Renewal is one entry of a transaction's renewal history.
type Renewal struct {
	OldDueDate time.Time `json:"old_due_date"`
	NewDueDate time.Time `json:"new_due_date"`
	RenewedBy  uuid.UUID `json:"renewed_by"`
	RenewedAt  time.Time `json:"renewed_at"`
}

// Renewals is stored as a JSONB array.
type Renewals []Renewal

func (r Renewals) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Renewals) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*r = nil
		return nil
	default:
		return fmt.Errorf("scan renewals: unsupported type %T", src)
	}
	return json.Unmarshal(raw, r)
}

// Notice records that a notification was sent for a transaction on a given day.
type Notice struct {
	Kind   string    `json:"kind"`
	SentOn time.Time `json:"sent_on"`
}

// Transaction is one loan of one copy of a book to one borrower.
type Transaction struct {
	ID                uuid.UUID  `json:"id"`
	BorrowerID        uuid.UUID  `json:"borrower_id"`
	BookID            uuid.UUID  `json:"book_id"`
	IssuedBy          uuid.UUID  `json:"issued_by"`
	ReturnedBy        *uuid.UUID `json:"returned_by,omitempty"`
	IssueDate         time.Time  `json:"issue_date"`
	DueDate           time.Time  `json:"due_date"`
	ReturnDate        *time.Time `json:"return_date,omitempty"`
	ActualReturnDate  *time.Time `json:"actual_return_date,omitempty"`
	Status            Status     `json:"status"`
	Fine              Fine       `json:"fine"`
	RenewalCount      int        `json:"renewal_count"`
	Renewals          Renewals   `json:"renewals"`
	ConditionAtIssue  Condition  `json:"condition_at_issue"`
	ConditionAtReturn Condition  `json:"condition_at_return,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	ReminderSent      bool       `json:"reminder_sent"`
	Notices           []Notice   `json:"notices,omitempty"`
	Version           int        `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsOverdueAt reports whether the transaction is active and past due at t.
func (t *Transaction) IsOverdueAt(at time.Time) bool {
	return t.Status.IsActive() && t.ReturnDate == nil && at.After(t.DueDate)
}

// Borrower is the membership view circulation needs.
type Borrower struct {
	ID                uuid.UUID         `db:"id"`
	Email             string            `db:"email"`
	Name              string            `db:"name"`
	Role              auth.Role         `db:"role"`
	Approved          bool              `db:"approved"`
	Status            membership.Status `db:"status"`
	CurrentlyBorrowed int               `db:"currently_borrowed"`
	TotalFines        decimal.Decimal   `db:"total_fines"`
}

// Book is the catalog view circulation needs.
type Book struct {
	ID              uuid.UUID      `db:"id"`
	Title           string         `db:"title"`
	TotalCopies     int            `db:"total_copies"`
	AvailableCopies int            `db:"available_copies"`
	Status          catalog.Status `db:"status"`
}

// Available reports whether a copy can be issued.
func (b *Book) Available() bool {
	return b.Status == catalog.StatusActive && b.AvailableCopies > 0
}

// Rules are the lending parameters.
type Rules struct {
	LoanPeriodDays int
	FinePerDay     decimal.Decimal
	MaxActiveLoans int
	MaxRenewals    int
	ReminderDays   int
	LostBookFee    decimal.Decimal
}

// DefaultRules returns the standard lending rules.
func DefaultRules() Rules {
	return Rules{
		LoanPeriodDays: 14,
		FinePerDay:     decimal.NewFromInt(10),
		MaxActiveLoans: 5,
		MaxRenewals:    2,
		ReminderDays:   3,
		LostBookFee:    decimal.NewFromInt(500),
	}
}

func (r Rules) validate() error {
	var errs []error
	if r.LoanPeriodDays < 1 {
		errs = append(errs, errors.New("loan period must be at least one day"))
	}
	if r.FinePerDay.IsNegative() {
		errs = append(errs, errors.New("fine per day must not be negative"))
	}
	if r.MaxActiveLoans < 1 {
		errs = append(errs, errors.New("max active loans must be positive"))
	}
	if r.MaxRenewals < 0 {
		errs = append(errs, errors.New("max renewals must not be negative"))
	}
	if r.LostBookFee.IsNegative() {
		errs = append(errs, errors.New("lost book fee must not be negative"))
	}
	return errors.Join(errs...)
}

// ListFilter selects transactions for List.
type ListFilter struct {
	Status     Status
	BorrowerID uuid.UUID
	BookID     uuid.UUID
	Page       int
	Limit      int
}

// Page is one page of transactions.
type Page struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
}

// Stats summarises circulation.
type Stats struct {
	ByStatus       map[Status]int  `json:"by_status"`
	Active         int             `json:"active"`
	Overdue        int             `json:"overdue"`
	TotalFines     decimal.Decimal `json:"total_fines"`
	UnpaidFines    decimal.Decimal `json:"unpaid_fines"`
	CollectedFines decimal.Decimal `json:"collected_fines"`
}

// NoticeTarget is a transaction with the details needed to notify its borrower.
type NoticeTarget struct {
	Transaction
	BorrowerEmail string
	BorrowerName  string
	BookTitle     string
}

// Events recorded for a transaction.
const (
	EventTransactionIssued   = "TransactionIssued"
	EventTransactionReturned = "TransactionReturned"
	EventTransactionRenewed  = "TransactionRenewed"
	EventFinePaid            = "FinePaid"
	EventTransactionLost     = "TransactionLost"
)

// TransactionIssuedEvent is recorded when a copy is issued.
type TransactionIssuedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	BorrowerID    uuid.UUID `json:"borrower_id"`
	BookID        uuid.UUID `json:"book_id"`
	DueDate       time.Time `json:"due_date"`
}

// TransactionReturnedEvent is recorded when a copy comes back.
type TransactionReturnedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	ReturnDate    time.Time       `json:"return_date"`
	Condition     Condition       `json:"condition"`
	Fine          decimal.Decimal `json:"fine"`
}

// TransactionRenewedEvent is recorded on renewal.
type TransactionRenewedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	OldDueDate    time.Time `json:"old_due_date"`
	NewDueDate    time.Time `json:"new_due_date"`
	RenewalCount  int       `json:"renewal_count"`
}

// FinePaidEvent is recorded when a fine is settled.
type FinePaidEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReceivedBy    uuid.UUID       `json:"received_by"`
}

// TransactionLostEvent is recorded when a copy is declared lost.
type TransactionLostEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Fine          decimal.Decimal `json:"fine"`
}
