// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a catalogue entry.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusRetired
}

// Book represents a title held by the library and its copy counts.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ISBN            string    `json:"isbn" db:"isbn"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Publisher       string    `json:"publisher,omitempty" db:"publisher"`
	PublishedYear   int       `json:"published_year,omitempty" db:"published_year"`
	Category        string    `json:"category,omitempty" db:"category"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	Status          Status    `json:"status" db:"status"`
	Version         int       `json:"version" db:"version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OnLoan is the number of copies currently lent out.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// NewBook is the input to AddBook.
type NewBook struct {
	ISBN          string    `json:"isbn" validate:"required,max=32"`
	Title         string    `json:"title" validate:"required,max=500"`
	Author        string    `json:"author" validate:"required,max=300"`
	Publisher     string    `json:"publisher" validate:"max=300"`
	PublishedYear int       `json:"published_year" validate:"gte=0,lte=9999"`
	Category      string    `json:"category" validate:"max=100"`
	TotalCopies   int       `json:"total_copies" validate:"gte=1,lte=10000"`
	AddedBy       uuid.UUID `json:"-"`
}

// BookFilter narrows ListBooks. An empty Status lists active books only; "all" lists every book.
type BookFilter struct {
	Query    string
	Category string
	Status   string
	Page     int
	Limit    int
}

// BookPage is one page of ListBooks results.
type BookPage struct {
	Books []Book `json:"books"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

const (
	EventBookAdded         = "BookAdded"
	EventBookCopiesUpdated = "BookCopiesUpdated"
	EventBookRetired       = "BookRetired"
)

// BookAddedEvent is recorded when a new book is catalogued.
type BookAddedEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	TotalCopies int       `json:"total_copies"`
}

// BookCopiesUpdatedEvent is recorded when the number of copies changes.
type BookCopiesUpdatedEvent struct {
	ID            uuid.UUID `json:"id"`
	PreviousTotal int       `json:"previous_total"`
	NewTotal      int       `json:"new_total"`
}

// BookRetiredEvent is recorded when a book is withdrawn from circulation.
type BookRetiredEvent struct {
	ID     uuid.UUID `json:"id"`
	OnLoan int       `json:"on_loan"`
}
