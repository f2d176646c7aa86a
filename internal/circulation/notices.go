package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/notify"
)

func (s *service) MarkOverdue(ctx context.Context, now time.Time) (n int64, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.mark_overdue")
	defer func() {
		span.SetAttributes(attribute.Int64("transactions.affected", n))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	n, err = s.store.MarkOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "marked transactions overdue", "count", n)
	}
	return n, nil
}

func (s *service) SendOverdueNotices(ctx context.Context, now time.Time) (sent int, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.send_overdue_notices")
	defer func() {
		span.SetAttributes(attribute.Int("notices.sent", sent))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	targets, err := s.store.OverdueTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("load overdue transactions: %w", err)
	}

	kind := string(notify.KindOverdue)
	today := dateOf(now)
	var errs []error
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		claimed, err := s.store.ClaimNotice(ctx, target.ID, kind, today)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim overdue notice for %s: %w", target.ID, err))
			continue
		}
		if !claimed {
			continue
		}

		notice := targetNotice(notify.KindOverdue, target)
		notice.OverdueDays = OverdueDays(target.DueDate, now)
		notice.Fine = CalculateFine(target.DueDate, now, s.rules.FinePerDay)

		if err := s.notifier.Send(ctx, notice); err != nil {
			s.logger.WarnContext(ctx, "failed to send overdue notice",
				"transaction_id", target.ID, "error", err)
			if err := s.store.ReleaseNotice(ctx, target.ID, kind, today); err != nil {
				errs = append(errs, fmt.Errorf("release overdue notice for %s: %w", target.ID, err))
			}
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *service) SendDueReminders(ctx context.Context, now time.Time, withinDays int) (sent int, err error) {
	if withinDays <= 0 {
		withinDays = s.rules.ReminderDays
	}

	ctx, span := s.tracer.Start(ctx, "circulation.send_due_reminders",
		trace.WithAttributes(attribute.Int("within.days", withinDays)),
	)
	defer func() {
		span.SetAttributes(attribute.Int("reminders.sent", sent))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	targets, err := s.store.ReminderTargets(ctx, now, now.AddDate(0, 0, withinDays))
	if err != nil {
		return 0, fmt.Errorf("load transactions due soon: %w", err)
	}

	var errs []error
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		claimed, err := s.store.ClaimReminder(ctx, target.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim reminder for %s: %w", target.ID, err))
			continue
		}
		if !claimed {
			continue
		}

		if err := s.notifier.Send(ctx, targetNotice(notify.KindReminder, target)); err != nil {
			s.logger.WarnContext(ctx, "failed to send due reminder",
				"transaction_id", target.ID, "error", err)
			if err := s.store.ReleaseReminder(ctx, target.ID); err != nil {
				errs = append(errs, fmt.Errorf("release reminder for %s: %w", target.ID, err))
			}
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func targetNotice(kind notify.Kind, target NoticeTarget) notify.Notice {
	return notify.Notice{
		Kind:          kind,
		TransactionID: target.ID,
		Email:         target.BorrowerEmail,
		Name:          target.BorrowerName,
		BookTitle:     target.BookTitle,
		IssueDate:     target.IssueDate,
		DueDate:       target.DueDate,
	}
}

// dateOf truncates t to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
