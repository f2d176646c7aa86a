// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/catalog"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/circulation"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/membership"
)

// Deps are the services the lending experiments drive.
type Deps struct {
	DB          *sqlx.DB
	Catalog     catalog.Service
	Members     membership.Service
	Circulation circulation.Service
}

// Invariants are the consistency checks every experiment must leave intact.
func Invariants(db *sqlx.DB) []Probe {
	return []Probe{
		countProbe(db, "copy_bounds", `
			SELECT COUNT(*) FROM books
			WHERE available_copies < 0 OR available_copies > total_copies`),
		countProbe(db, "copies_on_loan", `
			SELECT COUNT(*) FROM books b
			WHERE b.total_copies - b.available_copies <> (
				SELECT COUNT(*) FROM transactions t
				WHERE t.book_id = b.id AND t.status IN ('issued', 'overdue')
			)`),
		countProbe(db, "borrow_counters", `
			SELECT COUNT(*) FROM users u
			WHERE u.currently_borrowed <> (
				SELECT COUNT(*) FROM transactions t
				WHERE t.borrower_id = u.id AND t.status IN ('issued', 'overdue')
			)`),
		countProbe(db, "event_versions", `
			SELECT COUNT(*) FROM transactions t
			WHERE t.version <> (SELECT COALESCE(MAX(e.version), 0) FROM events e WHERE e.aggregate_id = t.id)`),
	}
}

// countProbe expects query to count offending rows, so the threshold is zero.
func countProbe(db *sqlx.DB, name, query string) Probe {
	return Probe{
		Name: name,
		Query: func(ctx context.Context) (float64, error) {
			var n int
			err := sqlx.GetContext(ctx, db, &n, query)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// errNoScratchBook is returned by actions that run after setup failed to add the book.
var errNoScratchBook = errors.New("scratch book was not created")

// scratch is the book and borrowers an experiment creates and cleans up.
type scratch struct {
	mu        sync.Mutex
	staff     auth.Principal
	book      *catalog.Book
	borrowers []uuid.UUID
	loans     []uuid.UUID
}

func (s *scratch) setup(ctx context.Context, d Deps, name string, copies, borrowers int) error {
	run := uuid.NewString()[:8]
	book, err := d.Catalog.AddBook(ctx, catalog.NewBook{
		ISBN:        "chaos-" + run,
		Title:       "Chaos scratch copy " + run,
		Author:      name,
		TotalCopies: copies,
		AddedBy:     s.staff.UserID,
	})
	if err != nil {
		return fmt.Errorf("add scratch book: %w", err)
	}
	s.book = book

	for i := range borrowers {
		u, err := d.Members.Register(ctx, membership.Registration{
			Email:    fmt.Sprintf("chaos-%s-%d@example.invalid", run, i),
			Name:     fmt.Sprintf("Chaos Borrower %d", i),
			Password: uuid.NewString(),
		})
		if err != nil {
			return fmt.Errorf("register scratch borrower: %w", err)
		}
		if _, err := d.Members.Approve(ctx, u.ID, true, s.staff.UserID); err != nil {
			return fmt.Errorf("approve scratch borrower: %w", err)
		}
		s.borrowers = append(s.borrowers, u.ID)
	}
	return nil
}

// issueAll lends the scratch book to every borrower at once.
func (s *scratch) issueAll(ctx context.Context, d Deps) error {
	if s.book == nil {
		return errNoScratchBook
	}
	var (
		wg   sync.WaitGroup
		errs []error
	)
	for _, borrower := range s.borrowers {
		wg.Add(1)
		go func(borrower uuid.UUID) {
			defer wg.Done()
			tx, err := d.Circulation.Issue(ctx, circulation.IssueRequest{
				BorrowerID: borrower,
				BookID:     s.book.ID,
				IssuedBy:   s.staff.UserID,
			})

			s.mu.Lock()
			defer s.mu.Unlock()
			switch {
			case err == nil:
				s.loans = append(s.loans, tx.ID)
			case errors.Is(err, circulation.ErrBookUnavailable):
				// losing the race is the expected outcome
			default:
				errs = append(errs, err)
			}
		}(borrower)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *scratch) cleanup(ctx context.Context, d Deps) error {
	var errs []error
	for _, id := range s.loans {
		if _, err := d.Circulation.Return(ctx, circulation.ReturnRequest{TransactionID: id, Actor: s.staff}); err != nil {
			errs = append(errs, err)
		}
	}
	if s.book != nil {
		if _, err := d.Catalog.RetireBook(ctx, s.book.ID, s.staff.UserID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *scratch) activeLoans(d Deps) Probe {
	return Probe{
		Name: "scratch_active_loans",
		Query: func(ctx context.Context) (float64, error) {
			if s.book == nil {
				return 0, nil
			}
			var n int
			err := sqlx.GetContext(ctx, d.DB, &n, `
				SELECT COUNT(*) FROM transactions
				WHERE book_id = $1 AND status IN ('issued', 'overdue')
			`, s.book.ID)
			return float64(n), err
		},
	}
}

// ConcurrentIssueExperiment races borrowers for the only copy of a book. Exactly one loan
// may be created and every invariant must still hold afterwards.
func ConcurrentIssueExperiment(d Deps, concurrency int, observe time.Duration) Experiment {
	s := &scratch{staff: auth.Principal{UserID: uuid.New(), Role: auth.RoleStaff}}
	loans := s.activeLoans(d)
	loans.Threshold = Threshold{Operator: "<=", Value: 1}

	return Experiment{
		Name:        "concurrent-issue-race",
		Hypothesis:  "The last copy of a book is lent at most once when many borrowers ask at the same time",
		SteadyState: append(Invariants(d.DB), loans),
		Method: []Action{
			{
				Name:   "prepare-scratch",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					return s.setup(ctx, d, "concurrent-issue-race", 1, concurrency)
				},
			},
			{
				Name:   "concurrent-issue",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					return s.issueAll(ctx, d)
				},
			},
		},
		Rollback: []Action{
			{
				Name:    "return-and-retire",
				Target:  "circulation",
				Execute: func(ctx context.Context) error { return s.cleanup(ctx, d) },
			},
		},
		Duration: observe,
	}
}

// CopyShrinkExperiment shrinks a book's copy count while borrowers are checking it out.
// Copies on loan must never exceed the total.
func CopyShrinkExperiment(d Deps, concurrency int, observe time.Duration) Experiment {
	s := &scratch{staff: auth.Principal{UserID: uuid.New(), Role: auth.RoleStaff}}

	return Experiment{
		Name:        "copy-shrink-under-load",
		Hypothesis:  "Reducing copies during a checkout burst never leaves more loans than copies",
		SteadyState: Invariants(d.DB),
		Method: []Action{
			{
				Name:   "prepare-scratch",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					return s.setup(ctx, d, "copy-shrink-under-load", concurrency, concurrency)
				},
			},
			{
				Name:   "issue-while-shrinking",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					if s.book == nil {
						return errNoScratchBook
					}
					done := make(chan error, 1)
					go func() { done <- s.issueAll(ctx, d) }()

					var errs []error
					for total := concurrency - 1; total >= 0; total-- {
						_, err := d.Catalog.UpdateCopies(ctx, s.book.ID, total, s.staff.UserID)
						if err != nil && !errors.Is(err, catalog.ErrInvalidCopies) && !errors.Is(err, catalog.ErrConcurrentUpdate) {
							errs = append(errs, err)
						}
					}
					errs = append(errs, <-done)
					return errors.Join(errs...)
				},
			},
		},
		Rollback: []Action{
			{
				Name:    "return-and-retire",
				Target:  "circulation",
				Execute: func(ctx context.Context) error { return s.cleanup(ctx, d) },
			},
		},
		Duration: observe,
	}
}

// Experiments returns every lending experiment.
func Experiments(d Deps, concurrency int, observe time.Duration) []Experiment {
	return []Experiment{
		ConcurrentIssueExperiment(d, concurrency, observe),
		CopyShrinkExperiment(d, concurrency, observe),
	}
}
