package membership

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

var userColumns = []any{
	"id", "email", "name", "role", "approved", "currently_borrowed", "total_fines",
	"status", "version", "created_at", "updated_at",
}

const selectUser = `
	SELECT id, email, name, role, approved, currently_borrowed, total_fines,
	       status, version, created_at, updated_at
	FROM users`

// PostgresRepository stores users in the users and credentials tables.
type PostgresRepository struct {
	db     *sqlx.DB
	events *eventstore.Store
}

func NewPostgresRepository(db *sqlx.DB, events *eventstore.Store) *PostgresRepository {
	return &PostgresRepository{db: db, events: events}
}

func (r *PostgresRepository) Create(ctx context.Context, u *User, cred Credential, event eventstore.Event) error {
	return postgres.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO users (id, email, name, role, approved, currently_borrowed, total_fines,
			                   status, version, created_at, updated_at)
			VALUES (:id, :email, :name, :role, :approved, :currently_borrowed, :total_fines,
			        :status, :version, :created_at, :updated_at)
		`, u)
		if postgres.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO credentials (user_id, password_hash, salt)
			VALUES (:user_id, :password_hash, :salt)
		`, cred); err != nil {
			return fmt.Errorf("insert credentials: %w", err)
		}

		return r.events.Append(ctx, tx, u.ID, eventstore.AggregateUser, 0, event)
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, r.db, &u, selectUser+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, *Credential, error) {
	var row struct {
		User
		PasswordHash string `db:"password_hash"`
		Salt         string `db:"salt"`
	}
	err := sqlx.GetContext(ctx, r.db, &row, `
		SELECT u.id, u.email, u.name, u.role, u.approved, u.currently_borrowed, u.total_fines,
		       u.status, u.version, u.created_at, u.updated_at, c.password_hash, c.salt
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE u.email = $1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get user by email: %w", err)
	}

	user := row.User
	return &user, &Credential{UserID: user.ID, PasswordHash: row.PasswordHash, Salt: row.Salt}, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter UserFilter) ([]User, int, error) {
	where := goqu.Ex{}
	if filter.Role != "" {
		where["role"] = string(filter.Role)
	}
	if filter.Approved != nil {
		where["approved"] = *filter.Approved
	}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	base := postgres.Dialect.From("users").Where(where)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query, args, err := base.
		Select(userColumns...).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc()).
		Limit(uint(filter.Limit)).
		Offset(postgres.Offset(filter.Page, filter.Limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	users := []User{}
	if err := sqlx.SelectContext(ctx, r.db, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id uuid.UUID, version int, fn func(u *User), event eventstore.Event) (*User, error) {
	var updated User
	err := postgres.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var u User
		err := sqlx.GetContext(ctx, tx, &u, selectUser+` WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if u.Version != version {
			return ErrConcurrentUpdate
		}

		fn(&u)
		if err := sqlx.GetContext(ctx, tx, &updated, `
			UPDATE users
			SET approved = $2, status = $3, version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING id, email, name, role, approved, currently_borrowed, total_fines,
			          status, version, created_at, updated_at
		`, id, u.Approved, string(u.Status)); err != nil {
			return fmt.Errorf("update user: %w", err)
		}

		return r.events.Append(ctx, tx, id, eventstore.AggregateUser, version, event)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
