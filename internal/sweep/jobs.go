package sweep

import (
	"context"
	"time"
)

// Circulation is the part of the circulation service the jobs drive.
type Circulation interface {
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	SendOverdueNotices(ctx context.Context, now time.Time) (int, error)
	SendDueReminders(ctx context.Context, now time.Time, withinDays int) (int, error)
}

// Intervals sets how often each job runs.
type Intervals struct {
	Overdue      time.Duration
	Notices      time.Duration
	ReminderDays int
}

// CirculationJobs builds the mark-overdue, overdue-notices and due-reminders jobs.
// Overdue flags are refreshed before notices go out on startup.
func CirculationJobs(svc Circulation, iv Intervals) []Job {
	return []Job{
		{
			Name:       "mark-overdue",
			Interval:   iv.Overdue,
			RunOnStart: true,
			Run:        svc.MarkOverdue,
		},
		{
			Name:     "overdue-notices",
			Interval: iv.Notices,
			Run: func(ctx context.Context, now time.Time) (int64, error) {
				n, err := svc.SendOverdueNotices(ctx, now)
				return int64(n), err
			},
		},
		{
			Name:     "due-reminders",
			Interval: iv.Notices,
			Run: func(ctx context.Context, now time.Time) (int64, error) {
				n, err := svc.SendDueReminders(ctx, now, iv.ReminderDays)
				return int64(n), err
			},
		},
	}
}
