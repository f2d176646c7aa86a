package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/postgres"
)

var bookColumns = []any{
	"id", "isbn", "title", "author", "publisher", "published_year", "category",
	"total_copies", "available_copies", "status", "version", "created_at", "updated_at",
}

const bookReturning = `
	RETURNING id, isbn, title, author, publisher, published_year, category,
	          total_copies, available_copies, status, version, created_at, updated_at`

// PostgresRepository stores books in the books table.
type PostgresRepository struct {
	db     *sqlx.DB
	events *eventstore.Store
}

func NewPostgresRepository(db *sqlx.DB, events *eventstore.Store) *PostgresRepository {
	return &PostgresRepository{db: db, events: events}
}

func (r *PostgresRepository) Create(ctx context.Context, b *Book, event eventstore.Event) error {
	return postgres.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO books (id, isbn, title, author, publisher, published_year, category,
			                   total_copies, available_copies, status, version, created_at, updated_at)
			VALUES (:id, :isbn, :title, :author, :publisher, :published_year, :category,
			        :total_copies, :available_copies, :status, :version, :created_at, :updated_at)
		`, b)
		if postgres.IsUniqueViolation(err) {
			return ErrDuplicateISBN
		}
		if err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
		return r.events.Append(ctx, tx, b.ID, eventstore.AggregateBook, 0, event)
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Book, error) {
	query, args, err := postgres.Dialect.From("books").
		Select(bookColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var b Book
	err = sqlx.GetContext(ctx, r.db, &b, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter BookFilter) ([]Book, int, error) {
	base := postgres.Dialect.From("books")
	switch filter.Status {
	case "all":
	case "":
		base = base.Where(goqu.C("status").Eq(string(StatusActive)))
	default:
		base = base.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.Category != "" {
		base = base.Where(goqu.C("category").Eq(filter.Category))
	}
	if filter.Query != "" {
		pattern := "%" + filter.Query + "%"
		base = base.Where(goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
			goqu.C("isbn").ILike(pattern),
		))
	}

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	query, args, err := base.
		Select(bookColumns...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()).
		Limit(uint(filter.Limit)).
		Offset(postgres.Offset(filter.Page, filter.Limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	books := []Book{}
	if err := sqlx.SelectContext(ctx, r.db, &books, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list books: %w", err)
	}
	return books, total, nil
}

// Search matches the query against titles and authors with Postgres full-text search.
func (r *PostgresRepository) Search(ctx context.Context, query string, limit int) ([]Book, error) {
	books := []Book{}
	err := sqlx.SelectContext(ctx, r.db, &books, `
		SELECT id, isbn, title, author, publisher, published_year, category,
		       total_copies, available_copies, status, version, created_at, updated_at
		FROM books
		WHERE status = 'active'
		  AND to_tsvector('english', title || ' ' || author) @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(to_tsvector('english', title || ' ' || author), plainto_tsquery('english', $1)) DESC,
		         title
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("database search failed: %w", err)
	}
	return books, nil
}

func (r *PostgresRepository) UpdateCopies(ctx context.Context, id uuid.UUID, version, newTotal int, event eventstore.Event) (*Book, error) {
	var updated Book
	err := postgres.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := sqlx.GetContext(ctx, tx, &updated, `
			UPDATE books
			SET available_copies = $3 - (total_copies - available_copies),
			    total_copies = $3,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND version = $2 AND status = 'active'
			  AND $3 >= total_copies - available_copies
		`+bookReturning, id, version, newTotal)
		if errors.Is(err, sql.ErrNoRows) {
			return r.explainMiss(ctx, tx, id, version)
		}
		if err != nil {
			return fmt.Errorf("update book copies: %w", err)
		}
		return r.events.Append(ctx, tx, id, eventstore.AggregateBook, version, event)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *PostgresRepository) Retire(ctx context.Context, id uuid.UUID, version int, event eventstore.Event) (*Book, error) {
	var retired Book
	err := postgres.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := sqlx.GetContext(ctx, tx, &retired, `
			UPDATE books
			SET status = 'retired', version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2 AND status = 'active'
		`+bookReturning, id, version)
		if errors.Is(err, sql.ErrNoRows) {
			return r.explainMiss(ctx, tx, id, version)
		}
		if err != nil {
			return fmt.Errorf("retire book: %w", err)
		}
		return r.events.Append(ctx, tx, id, eventstore.AggregateBook, version, event)
	})
	if err != nil {
		return nil, err
	}
	return &retired, nil
}

// explainMiss reports why a guarded update matched no row.
func (r *PostgresRepository) explainMiss(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, version int) error {
	var current Book
	err := sqlx.GetContext(ctx, tx, &current, `
		SELECT id, isbn, title, author, publisher, published_year, category,
		       total_copies, available_copies, status, version, created_at, updated_at
		FROM books WHERE id = $1
	`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("reload book: %w", err)
	case current.Version != version:
		return ErrConcurrentUpdate
	case current.Status == StatusRetired:
		return ErrRetired
	default:
		return ErrInvalidCopies
	}
}
