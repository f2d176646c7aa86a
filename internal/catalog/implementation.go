// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/telemetry"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/web"
)

const searchLimit = 20

// service implements the Service interface.
type service struct {
	repo    Repository
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the service.
type Option func(*service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) { s.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *service) { s.metrics = m }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, opts ...Option) Service {
	s := &service{
		repo:   repo,
		logger: slog.Default(),
		tracer: otel.Tracer("library/catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBook catalogues a new book with every copy available.
func (s *service) AddBook(ctx context.Context, nb NewBook) (_ *Book, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book",
		trace.WithAttributes(attribute.String("book.isbn", nb.ISBN)),
	)
	defer func() { s.finish(ctx, span, "add_book", err) }()

	nb.ISBN = strings.TrimSpace(nb.ISBN)
	nb.Title = strings.TrimSpace(nb.Title)
	nb.Author = strings.TrimSpace(nb.Author)
	if err := web.Validate(nb); err != nil {
		return nil, err
	}

	now := s.now()
	book := &Book{
		ID:              uuid.New(),
		ISBN:            nb.ISBN,
		Title:           nb.Title,
		Author:          nb.Author,
		Publisher:       strings.TrimSpace(nb.Publisher),
		PublishedYear:   nb.PublishedYear,
		Category:        strings.TrimSpace(nb.Category),
		TotalCopies:     nb.TotalCopies,
		AvailableCopies: nb.TotalCopies,
		Status:          StatusActive,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	event, err := eventstore.NewEvent(EventBookAdded, BookAddedEvent{
		ID:          book.ID,
		ISBN:        book.ISBN,
		Title:       book.Title,
		Author:      book.Author,
		TotalCopies: book.TotalCopies,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, book, event.WithActor(nb.AddedBy)); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("book.id", book.ID.String()))
	s.logger.InfoContext(ctx, "book added",
		"book_id", book.ID,
		"isbn", book.ISBN,
		"copies", book.TotalCopies,
	)
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (_ *Book, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer func() { s.finish(ctx, span, "get_book", err) }()

	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return book, nil
}

func (s *service) ListBooks(ctx context.Context, filter BookFilter) (_ *BookPage, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.list_books")
	defer func() { s.finish(ctx, span, "list_books", err) }()

	switch filter.Status {
	case "", "all":
	default:
		if !Status(filter.Status).Valid() {
			return nil, apperr.Validation("invalid status filter", "status must be one of [active retired all]")
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	filter.Query = strings.TrimSpace(filter.Query)

	books, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return &BookPage{Books: books, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// Search performs a full-text search over titles and authors.
func (s *service) Search(ctx context.Context, query string) (_ []Book, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.search",
		trace.WithAttributes(attribute.String("query", query)),
	)
	defer func() { s.finish(ctx, span, "search", err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	books, err := s.repo.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(books)))
	return books, nil
}

// UpdateCopies changes the number of copies owned. Copies on loan stay on loan, so the
// available count moves by the same amount as the total.
func (s *service) UpdateCopies(ctx context.Context, id uuid.UUID, newTotal int, actor uuid.UUID) (_ *Book, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_copies",
		trace.WithAttributes(
			attribute.String("book.id", id.String()),
			attribute.Int("copies.new_total", newTotal),
		),
	)
	defer func() { s.finish(ctx, span, "update_copies", err) }()

	if newTotal < 0 {
		return nil, apperr.Validation("validation failed", "total_copies must be at least 0")
	}

	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	if book.Status == StatusRetired {
		return nil, ErrRetired
	}
	if newTotal < book.OnLoan() {
		return nil, ErrInvalidCopies
	}

	event, err := eventstore.NewEvent(EventBookCopiesUpdated, BookCopiesUpdatedEvent{
		ID:            id,
		PreviousTotal: book.TotalCopies,
		NewTotal:      newTotal,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateCopies(ctx, id, book.Version, newTotal, event.WithActor(actor))
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("book", id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "book copies updated",
		"book_id", id,
		"previous_total", book.TotalCopies,
		"new_total", updated.TotalCopies,
		"available", updated.AvailableCopies,
	)
	return updated, nil
}

// RetireBook withdraws a book from circulation. Copies already on loan can still be returned.
func (s *service) RetireBook(ctx context.Context, id uuid.UUID, actor uuid.UUID) (_ *Book, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.retire_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer func() { s.finish(ctx, span, "retire_book", err) }()

	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	if book.Status == StatusRetired {
		return nil, ErrRetired
	}

	event, err := eventstore.NewEvent(EventBookRetired, BookRetiredEvent{ID: id, OnLoan: book.OnLoan()})
	if err != nil {
		return nil, err
	}

	retired, err := s.repo.Retire(ctx, id, book.Version, event.WithActor(actor))
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("book", id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "book retired", "book_id", id, "on_loan", book.OnLoan())
	return retired, nil
}

func (s *service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.metrics.RecordOperation(ctx, "catalog."+operation, err)
	span.End()
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("book", id)
	}
	return fmt.Errorf("load book %s: %w", id, err)
}
