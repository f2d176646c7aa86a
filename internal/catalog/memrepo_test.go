package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	mu     sync.Mutex
	books  map[uuid.UUID]Book
	events map[uuid.UUID][]eventstore.Event
}

func newMemRepo() *memRepo {
	return &memRepo{
		books:  map[uuid.UUID]Book{},
		events: map[uuid.UUID][]eventstore.Event{},
	}
}

func (m *memRepo) Create(_ context.Context, b *Book, event eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.books {
		if existing.ISBN == b.ISBN {
			return ErrDuplicateISBN
		}
	}
	m.books[b.ID] = *b
	m.events[b.ID] = append(m.events[b.ID], event)
	return nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *memRepo) List(_ context.Context, filter BookFilter) ([]Book, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Book
	for _, b := range m.books {
		switch {
		case filter.Status == "" && b.Status != StatusActive:
			continue
		case filter.Status != "" && filter.Status != "all" && string(b.Status) != filter.Status:
			continue
		case filter.Category != "" && b.Category != filter.Category:
			continue
		case filter.Query != "" && !containsFold(b, filter.Query):
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Title < matched[j].Title })

	start := (filter.Page - 1) * filter.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+filter.Limit, len(matched))
	return matched[start:end], len(matched), nil
}

func (m *memRepo) Search(ctx context.Context, query string, limit int) ([]Book, error) {
	books, _, err := m.List(ctx, BookFilter{Query: query, Page: 1, Limit: limit})
	return books, err
}

func (m *memRepo) UpdateCopies(_ context.Context, id uuid.UUID, version, newTotal int, event eventstore.Event) (*Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	switch {
	case !ok:
		return nil, ErrNotFound
	case b.Version != version:
		return nil, ErrConcurrentUpdate
	case newTotal < b.OnLoan():
		return nil, ErrInvalidCopies
	}
	b.AvailableCopies = newTotal - b.OnLoan()
	b.TotalCopies = newTotal
	b.Version++
	m.books[id] = b
	m.events[id] = append(m.events[id], event)
	return &b, nil
}

func (m *memRepo) Retire(_ context.Context, id uuid.UUID, version int, event eventstore.Event) (*Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	switch {
	case !ok:
		return nil, ErrNotFound
	case b.Version != version:
		return nil, ErrConcurrentUpdate
	}
	b.Status = StatusRetired
	b.Version++
	m.books[id] = b
	m.events[id] = append(m.events[id], event)
	return &b, nil
}

// lend simulates circulation taking n copies off the shelf.
func (m *memRepo) lend(id uuid.UUID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.books[id]
	b.AvailableCopies -= n
	m.books[id] = b
}

func (m *memRepo) eventTypes(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.events[id] {
		types = append(types, e.EventType)
	}
	return types
}

func containsFold(b Book, q string) bool {
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(b.Title), q) ||
		strings.Contains(strings.ToLower(b.Author), q) ||
		strings.Contains(strings.ToLower(b.ISBN), q)
}
