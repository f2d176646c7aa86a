// Package notify delivers borrower notifications. Delivery is a side effect: failures are
// logged and counted but never reach the lending operation that triggered them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names what a notice is about.
type Kind string

const (
	KindIssued   Kind = "issued"
	KindReturned Kind = "returned"
	KindRenewed  Kind = "renewed"
	KindOverdue  Kind = "overdue"
	KindReminder Kind = "reminder"
	KindLost     Kind = "lost"
)

// Notice is one message to a borrower.
type Notice struct {
	Kind          Kind            `json:"kind"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	BookTitle     string          `json:"book_title"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	ReturnDate    *time.Time      `json:"return_date,omitempty"`
	OverdueDays   int             `json:"overdue_days,omitempty"`
	Fine          decimal.Decimal `json:"fine"`
}

// Subject is a one-line summary of the notice.
func (n Notice) Subject() string {
	switch n.Kind {
	case KindIssued:
		return fmt.Sprintf("Issued: %q is due on %s", n.BookTitle, n.DueDate.Format(time.DateOnly))
	case KindReturned:
		if n.Fine.IsPositive() {
			return fmt.Sprintf("Returned: %q with a fine of %s", n.BookTitle, n.Fine.StringFixed(2))
		}
		return fmt.Sprintf("Returned: %q", n.BookTitle)
	case KindRenewed:
		return fmt.Sprintf("Renewed: %q is now due on %s", n.BookTitle, n.DueDate.Format(time.DateOnly))
	case KindOverdue:
		return fmt.Sprintf("Overdue: %q is %d days late, fine so far %s", n.BookTitle, n.OverdueDays, n.Fine.StringFixed(2))
	case KindReminder:
		return fmt.Sprintf("Reminder: %q is due on %s", n.BookTitle, n.DueDate.Format(time.DateOnly))
	case KindLost:
		return fmt.Sprintf("Lost: %q was marked lost, fine %s", n.BookTitle, n.Fine.StringFixed(2))
	default:
		return string(n.Kind)
	}
}

// Sender delivers a notice.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// LogSender writes notices to the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, n Notice) error {
	s.Logger.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"transaction_id", n.TransactionID,
		"email", n.Email,
		"subject", n.Subject(),
	)
	return nil
}
