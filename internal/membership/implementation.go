// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/telemetry"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/web"
)

// service implements the Service interface.
type service struct {
	repo        Repository
	tokens      *auth.Tokens
	rateLimiter *rate.Limiter
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	now         func() time.Time
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

// WithRateLimit bounds register and login attempts to perMinute across the process.
// Zero disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(s *service) {
		if perMinute <= 0 {
			s.rateLimiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		s.rateLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// NewService creates a new membership service instance.
func NewService(repo Repository, tokens *auth.Tokens, opts ...Option) Service {
	s := &service{
		repo:        repo,
		tokens:      tokens,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/30), 30),
		logger:      slog.Default(),
		tracer:      otel.Tracer("library/membership"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new account. Students must be approved by staff before they can
// borrow; staff and admin accounts are approved on creation.
func (s *service) Register(ctx context.Context, reg Registration) (_ *User, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer func() { s.finish(ctx, span, "register", err) }()

	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	reg.Email = normalizeEmail(reg.Email)
	reg.Name = strings.TrimSpace(reg.Name)
	if err := web.Validate(reg); err != nil {
		return nil, err
	}
	if reg.Role == "" {
		reg.Role = auth.RoleStudent
	}
	if !reg.Role.Valid() {
		return nil, ErrInvalidRole
	}

	passwordHash, salt, err := hashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &User{
		ID:         uuid.New(),
		Email:      reg.Email,
		Name:       reg.Name,
		Role:       reg.Role,
		Approved:   reg.Role != auth.RoleStudent,
		TotalFines: decimal.Zero,
		Status:     StatusActive,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()), attribute.String("user.role", string(user.Role)))

	event, err := eventstore.NewEvent(EventUserRegistered, UserRegisteredEvent{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	})
	if err != nil {
		return nil, err
	}

	cred := Credential{UserID: user.ID, PasswordHash: passwordHash, Salt: salt}
	if err := s.repo.Create(ctx, user, cred, event.WithActor(user.ID)); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user with a signed token.
func (s *service) Authenticate(ctx context.Context, email, password string) (_ *User, _ string, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer func() { s.finish(ctx, span, "authenticate", err) }()

	if !s.rateLimiter.Allow() {
		return nil, "", ErrRateLimited
	}

	user, cred, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		s.logger.WarnContext(ctx, "failed login", "user_id", user.ID)
		return nil, "", ErrInvalidCredentials
	}
	if user.Status == StatusSuspended {
		return nil, "", ErrSuspended
	}

	token, err := s.tokens.Issue(auth.Principal{UserID: user.ID, Role: user.Role})
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (_ *User, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.get_user",
		trace.WithAttributes(attribute.String("user.id", id.String())),
	)
	defer func() { s.finish(ctx, span, "get_user", err) }()

	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return user, nil
}

func (s *service) ListUsers(ctx context.Context, filter UserFilter) (_ *UserPage, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.list_users")
	defer func() { s.finish(ctx, span, "list_users", err) }()

	if filter.Role != "" && !filter.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return &UserPage{Users: users, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// Approve grants or revokes a user's permission to borrow. Setting the current value is a no-op.
func (s *service) Approve(ctx context.Context, id uuid.UUID, approved bool, actor uuid.UUID) (_ *User, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.approve",
		trace.WithAttributes(
			attribute.String("user.id", id.String()),
			attribute.Bool("approved", approved),
		),
	)
	defer func() { s.finish(ctx, span, "approve", err) }()

	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	if user.Approved == approved {
		return user, nil
	}

	event, err := eventstore.NewEvent(EventUserApprovalChanged, UserApprovalChangedEvent{ID: id, Approved: approved})
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.Update(ctx, id, user.Version, func(u *User) { u.Approved = approved }, event.WithActor(actor))
	if err != nil {
		return nil, notFound(err, id)
	}

	s.logger.InfoContext(ctx, "user approval changed", "user_id", id, "approved", approved, "actor", actor)
	return updated, nil
}

// SetStatus suspends or reactivates an account. Suspended users cannot log in or borrow.
func (s *service) SetStatus(ctx context.Context, id uuid.UUID, status Status, actor uuid.UUID) (_ *User, err error) {
	ctx, span := s.tracer.Start(ctx, "membership.set_status",
		trace.WithAttributes(
			attribute.String("user.id", id.String()),
			attribute.String("status", string(status)),
		),
	)
	defer func() { s.finish(ctx, span, "set_status", err) }()

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	if user.Status == status {
		return user, nil
	}

	event, err := eventstore.NewEvent(EventUserStatusChanged, UserStatusChangedEvent{ID: id, Status: status})
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.Update(ctx, id, user.Version, func(u *User) { u.Status = status }, event.WithActor(actor))
	if err != nil {
		return nil, notFound(err, id)
	}

	s.logger.InfoContext(ctx, "user status changed", "user_id", id, "status", status, "actor", actor)
	return updated, nil
}

func (s *service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		if apperr.KindOf(err) == apperr.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.metrics.RecordOperation(ctx, "membership."+operation, err)
	span.End()
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("user", id)
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return fmt.Errorf("user %s: %w", id, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
