// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, nb NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, filter BookFilter) (*BookPage, error)
	Search(ctx context.Context, query string) ([]Book, error)
	UpdateCopies(ctx context.Context, id uuid.UUID, newTotal int, actor uuid.UUID) (*Book, error)
	RetireBook(ctx context.Context, id uuid.UUID, actor uuid.UUID) (*Book, error)
}

// Repository persists books. Every mutating call appends the given audit event in the same
// database transaction as the row change.
type Repository interface {
	Create(ctx context.Context, b *Book, event eventstore.Event) error
	Get(ctx context.Context, id uuid.UUID) (*Book, error)
	List(ctx context.Context, filter BookFilter) ([]Book, int, error)
	Search(ctx context.Context, query string, limit int) ([]Book, error)
	// UpdateCopies sets the total, keeping the copies on loan, if the row is still at version.
	UpdateCopies(ctx context.Context, id uuid.UUID, version, newTotal int, event eventstore.Event) (*Book, error)
	Retire(ctx context.Context, id uuid.UUID, version int, event eventstore.Event) (*Book, error)
}
