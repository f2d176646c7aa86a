package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/logging"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/postgres"
)

func TestPostgresRepository(t *testing.T) {
	db := postgres.OpenTestDB(t)
	events := eventstore.New()
	repo := NewPostgresRepository(db, events)
	svc := NewService(repo, WithLogger(logging.Discard()))
	ctx := context.Background()

	book, err := svc.AddBook(ctx, NewBook{
		ISBN: "978-0261102217", Title: "The Hobbit", Author: "J. R. R. Tolkien",
		Category: "fantasy", TotalCopies: 3,
	})
	require.NoError(t, err)

	_, err = svc.AddBook(ctx, NewBook{ISBN: "978-0261102217", Title: "Dup", Author: "x", TotalCopies: 1})
	assert.ErrorIs(t, err, ErrDuplicateISBN)

	t.Run("copies keep loans", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `UPDATE books SET available_copies = 1 WHERE id = $1`, book.ID)
		require.NoError(t, err)

		updated, err := svc.UpdateCopies(ctx, book.ID, 4, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, 4, updated.TotalCopies)
		assert.Equal(t, 2, updated.AvailableCopies)

		_, err = svc.UpdateCopies(ctx, book.ID, 1, uuid.New())
		assert.ErrorIs(t, err, ErrInvalidCopies)
	})

	t.Run("stale version", func(t *testing.T) {
		current, err := repo.Get(ctx, book.ID)
		require.NoError(t, err)
		ev, err := eventstore.NewEvent(EventBookCopiesUpdated, BookCopiesUpdatedEvent{ID: book.ID})
		require.NoError(t, err)

		_, err = repo.UpdateCopies(ctx, book.ID, current.Version-1, 5, ev)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
	})

	t.Run("search and list", func(t *testing.T) {
		found, err := svc.Search(ctx, "hobbit")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, book.ID, found[0].ID)

		page, err := svc.ListBooks(ctx, BookFilter{Category: "fantasy"})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("retire", func(t *testing.T) {
		retired, err := svc.RetireBook(ctx, book.ID, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, StatusRetired, retired.Status)

		found, err := svc.Search(ctx, "hobbit")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	history, err := events.Load(ctx, db, book.ID, 0, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range history {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{EventBookAdded, EventBookCopiesUpdated, EventBookRetired}, types)
}

func TestPostgresRepository_ConcurrentCopyUpdates(t *testing.T) {
	db := postgres.OpenTestDB(t)
	svc := NewService(NewPostgresRepository(db, eventstore.New()), WithLogger(logging.Discard()))
	ctx := context.Background()

	book, err := svc.AddBook(ctx, NewBook{ISBN: "1", Title: "Emma", Author: "Jane Austen", TotalCopies: 1})
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range writers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.UpdateCopies(ctx, book.ID, n+2, uuid.New()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrConcurrentUpdate)
			}
		}(i)
	}
	wg.Wait()

	final, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+succeeded, final.Version)
}
