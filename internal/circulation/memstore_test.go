package circulation

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/catalog"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
)

type noticeKey struct {
	id   uuid.UUID
	kind string
	on   string
}

// memStore is an in-memory Store. InTx holds the lock for the whole unit of work and restores
// a snapshot when fn fails, which gives the same all-or-nothing behaviour as the database.
type memStore struct {
	mu        sync.Mutex
	borrowers map[uuid.UUID]Borrower
	books     map[uuid.UUID]Book
	txs       map[uuid.UUID]Transaction
	events    map[uuid.UUID][]eventstore.Event
	notices   map[noticeKey]bool

	// failAppend makes AppendEvent fail, to exercise rollback.
	failAppend error
}

func newMemStore() *memStore {
	return &memStore{
		borrowers: map[uuid.UUID]Borrower{},
		books:     map[uuid.UUID]Book{},
		txs:       map[uuid.UUID]Transaction{},
		events:    map[uuid.UUID][]eventstore.Event{},
		notices:   map[noticeKey]bool{},
	}
}

func cloneTransaction(t Transaction) Transaction {
	t.Renewals = slices.Clone(t.Renewals)
	t.Notices = slices.Clone(t.Notices)
	return t
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	borrowers := maps.Clone(m.borrowers)
	books := maps.Clone(m.books)
	txs := make(map[uuid.UUID]Transaction, len(m.txs))
	for id, t := range m.txs {
		txs[id] = cloneTransaction(t)
	}
	events := make(map[uuid.UUID][]eventstore.Event, len(m.events))
	for id, evs := range m.events {
		events[id] = slices.Clone(evs)
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.borrowers, m.books, m.txs, m.events = borrowers, books, txs, events
		return err
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	t = cloneTransaction(t)
	for key := range m.notices {
		if key.id == id {
			on, _ := time.Parse(time.DateOnly, key.on)
			t.Notices = append(t.Notices, Notice{Kind: key.kind, SentOn: on})
		}
	}
	return &t, nil
}

func (m *memStore) selectPage(match func(Transaction) bool, less func(a, b Transaction) bool, page, limit int) ([]Transaction, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Transaction
	for _, t := range m.txs {
		if match(t) {
			all = append(all, cloneTransaction(t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, len(all)
	}
	end := min(start+limit, len(all))
	return all[start:end], len(all)
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]Transaction, int, error) {
	txs, total := m.selectPage(func(t Transaction) bool {
		return (f.Status == "" || t.Status == f.Status) &&
			(f.BorrowerID == uuid.Nil || t.BorrowerID == f.BorrowerID) &&
			(f.BookID == uuid.Nil || t.BookID == f.BookID)
	}, func(a, b Transaction) bool { return a.IssueDate.After(b.IssueDate) }, f.Page, f.Limit)
	return txs, total, nil
}

func (m *memStore) ListOverdue(_ context.Context, now time.Time, page, limit int) ([]Transaction, int, error) {
	txs, total := m.selectPage(func(t Transaction) bool {
		return t.Status == StatusOverdue || (t.Status == StatusIssued && t.DueDate.Before(now))
	}, func(a, b Transaction) bool { return a.DueDate.Before(b.DueDate) }, page, limit)
	return txs, total, nil
}

func (m *memStore) ListDueBetween(_ context.Context, from, to time.Time, page, limit int) ([]Transaction, int, error) {
	txs, total := m.selectPage(func(t Transaction) bool {
		return t.Status == StatusIssued && !t.DueDate.Before(from) && !t.DueDate.After(to)
	}, func(a, b Transaction) bool { return a.DueDate.Before(b.DueDate) }, page, limit)
	return txs, total, nil
}

func (m *memStore) Stats(_ context.Context, now time.Time) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{ByStatus: map[Status]int{}}
	for _, t := range m.txs {
		stats.ByStatus[t.Status]++
		if t.Status.IsActive() {
			stats.Active++
		}
		if t.Status == StatusOverdue || (t.Status == StatusIssued && t.DueDate.Before(now)) {
			stats.Overdue++
		}
		stats.TotalFines = stats.TotalFines.Add(t.Fine.Amount)
		if !t.Fine.Paid {
			stats.UnpaidFines = stats.UnpaidFines.Add(t.Fine.Amount)
		}
		stats.CollectedFines = stats.CollectedFines.Add(t.Fine.PaidAmount)
	}
	return stats, nil
}

func (m *memStore) History(_ context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events[id]), nil
}

func (m *memStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, t := range m.txs {
		if t.Status == StatusIssued && t.DueDate.Before(now) && t.ReturnDate == nil {
			t.Status = StatusOverdue
			t.UpdatedAt = now
			m.txs[id] = t
			n++
		}
	}
	return n, nil
}

func (m *memStore) targets(match func(Transaction) bool) []NoticeTarget {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []NoticeTarget
	for _, t := range m.txs {
		if !match(t) {
			continue
		}
		out = append(out, NoticeTarget{
			Transaction:   cloneTransaction(t),
			BorrowerEmail: m.borrowers[t.BorrowerID].Email,
			BorrowerName:  m.borrowers[t.BorrowerID].Name,
			BookTitle:     m.books[t.BookID].Title,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

func (m *memStore) OverdueTargets(context.Context) ([]NoticeTarget, error) {
	return m.targets(func(t Transaction) bool { return t.Status == StatusOverdue }), nil
}

func (m *memStore) ReminderTargets(_ context.Context, from, to time.Time) ([]NoticeTarget, error) {
	return m.targets(func(t Transaction) bool {
		return t.Status == StatusIssued && !t.ReminderSent && !t.DueDate.Before(from) && !t.DueDate.After(to)
	}), nil
}

func (m *memStore) ClaimNotice(_ context.Context, id uuid.UUID, kind string, on time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := noticeKey{id: id, kind: kind, on: on.Format(time.DateOnly)}
	if m.notices[key] {
		return false, nil
	}
	m.notices[key] = true
	return true, nil
}

func (m *memStore) ReleaseNotice(_ context.Context, id uuid.UUID, kind string, on time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notices, noticeKey{id: id, kind: kind, on: on.Format(time.DateOnly)})
	return nil
}

func (m *memStore) ClaimReminder(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.txs[id]
	if !ok || t.ReminderSent || t.Status != StatusIssued {
		return false, nil
	}
	t.ReminderSent = true
	m.txs[id] = t
	return true, nil
}

func (m *memStore) ReleaseReminder(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.txs[id]; ok {
		t.ReminderSent = false
		m.txs[id] = t
	}
	return nil
}

// memTx runs with memStore.mu held by InTx.
type memTx struct {
	m *memStore
}

func (tx *memTx) Borrower(_ context.Context, id uuid.UUID) (*Borrower, error) {
	b, ok := tx.m.borrowers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (tx *memTx) Book(_ context.Context, id uuid.UUID) (*Book, error) {
	b, ok := tx.m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (tx *memTx) Transaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	t, ok := tx.m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	t = cloneTransaction(t)
	return &t, nil
}

func (tx *memTx) CountActiveLoans(_ context.Context, borrowerID uuid.UUID) (int, error) {
	n := 0
	for _, t := range tx.m.txs {
		if t.BorrowerID == borrowerID && t.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) HasActiveLoan(_ context.Context, borrowerID, bookID uuid.UUID) (bool, error) {
	for _, t := range tx.m.txs {
		if t.BorrowerID == borrowerID && t.BookID == bookID && t.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) HasUnpaidFine(_ context.Context, borrowerID uuid.UUID) (bool, error) {
	for _, t := range tx.m.txs {
		if t.BorrowerID == borrowerID && t.Fine.Outstanding() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) ReserveCopy(_ context.Context, bookID uuid.UUID) (bool, error) {
	b, ok := tx.m.books[bookID]
	if !ok || b.Status != catalog.StatusActive || b.AvailableCopies <= 0 {
		return false, nil
	}
	b.AvailableCopies--
	tx.m.books[bookID] = b
	return true, nil
}

func (tx *memTx) ReleaseCopy(_ context.Context, bookID uuid.UUID) (bool, error) {
	b, ok := tx.m.books[bookID]
	if !ok || b.AvailableCopies >= b.TotalCopies {
		return false, nil
	}
	b.AvailableCopies++
	tx.m.books[bookID] = b
	return true, nil
}

func (tx *memTx) RemoveCopy(_ context.Context, bookID uuid.UUID) (bool, error) {
	b, ok := tx.m.books[bookID]
	if !ok || b.TotalCopies <= b.AvailableCopies {
		return false, nil
	}
	b.TotalCopies--
	tx.m.books[bookID] = b
	return true, nil
}

func (tx *memTx) AddLoan(_ context.Context, borrowerID uuid.UUID, max int) (bool, error) {
	b, ok := tx.m.borrowers[borrowerID]
	if !ok || b.CurrentlyBorrowed >= max {
		return false, nil
	}
	b.CurrentlyBorrowed++
	tx.m.borrowers[borrowerID] = b
	return true, nil
}

func (tx *memTx) SettleLoan(_ context.Context, borrowerID uuid.UUID, fine decimal.Decimal) error {
	b, ok := tx.m.borrowers[borrowerID]
	if !ok {
		return nil
	}
	b.CurrentlyBorrowed = max(b.CurrentlyBorrowed-1, 0)
	b.TotalFines = b.TotalFines.Add(fine)
	tx.m.borrowers[borrowerID] = b
	return nil
}

func (tx *memTx) Insert(_ context.Context, t *Transaction) error {
	for _, existing := range tx.m.txs {
		if existing.BorrowerID == t.BorrowerID && existing.BookID == t.BookID && existing.Status.IsActive() {
			return ErrDuplicateLoan
		}
	}
	tx.m.txs[t.ID] = cloneTransaction(*t)
	return nil
}

func (tx *memTx) Update(_ context.Context, t *Transaction) error {
	existing, ok := tx.m.txs[t.ID]
	if !ok || existing.Version != t.Version {
		return ErrConcurrentUpdate
	}
	t.Version++
	tx.m.txs[t.ID] = cloneTransaction(*t)
	return nil
}

func (tx *memTx) AppendEvent(_ context.Context, id uuid.UUID, expectedVersion int, event eventstore.Event) error {
	if tx.m.failAppend != nil {
		return tx.m.failAppend
	}
	if len(tx.m.events[id]) != expectedVersion {
		return eventstore.ErrConcurrencyConflict
	}
	event.AggregateID = id
	event.AggregateType = eventstore.AggregateTransaction
	event.Version = expectedVersion + 1
	tx.m.events[id] = append(tx.m.events[id], event)
	return nil
}
