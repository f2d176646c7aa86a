// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
)

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, reg Registration) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, string, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context, filter UserFilter) (*UserPage, error)
	Approve(ctx context.Context, id uuid.UUID, approved bool, actor uuid.UUID) (*User, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status, actor uuid.UUID) (*User, error)
}

// Repository persists users and credentials. Mutations append their audit event in the same
// database transaction.
type Repository interface {
	Create(ctx context.Context, u *User, cred Credential, event eventstore.Event) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, *Credential, error)
	List(ctx context.Context, filter UserFilter) ([]User, int, error)
	// Update applies fn to the user at version and persists the result with version+1.
	Update(ctx context.Context, id uuid.UUID, version int, fn func(u *User), event eventstore.Event) (*User, error)
}
