// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
)

// Status is the account state of a user.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// User represents a library account. Students borrow; staff and admins run the desk.
type User struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Email             string          `json:"email" db:"email"`
	Name              string          `json:"name" db:"name"`
	Role              auth.Role       `json:"role" db:"role"`
	Approved          bool            `json:"approved" db:"approved"`
	CurrentlyBorrowed int             `json:"currently_borrowed" db:"currently_borrowed"`
	TotalFines        decimal.Decimal `json:"total_fines" db:"total_fines"`
	Status            Status          `json:"status" db:"status"`
	Version           int             `json:"version" db:"version"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Credential represents a user's login credentials.
type Credential struct {
	UserID       uuid.UUID `db:"user_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}

// Registration is the input to Register.
type Registration struct {
	Email    string    `json:"email" validate:"required,email,max=254"`
	Name     string    `json:"name" validate:"required,max=200"`
	Password string    `json:"password" validate:"required,min=8,max=128"`
	Role     auth.Role `json:"-"`
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role     auth.Role
	Approved *bool
	Status   Status
	Page     int
	Limit    int
}

// UserPage is one page of ListUsers results.
type UserPage struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

const (
	EventUserRegistered      = "UserRegistered"
	EventUserApprovalChanged = "UserApprovalChanged"
	EventUserStatusChanged   = "UserStatusChanged"
)

// UserRegisteredEvent is recorded when a new account is created.
type UserRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  auth.Role `json:"role"`
}

// UserApprovalChangedEvent is recorded when staff approve or revoke a borrower.
type UserApprovalChangedEvent struct {
	ID       uuid.UUID `json:"id"`
	Approved bool      `json:"approved"`
}

// UserStatusChangedEvent is recorded when an account is suspended or reactivated.
type UserStatusChangedEvent struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
}
