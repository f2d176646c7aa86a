package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/catalog"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/circulation"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/config"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/logging"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/membership"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/notify"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/postgres"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/sweep"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/telemetry"
)

// app holds every long-lived dependency of the process.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	db          *sqlx.DB
	telemetry   *telemetry.Provider
	dispatcher  *notify.Dispatcher
	tokens      *auth.Tokens
	catalog     catalog.Service
	membership  membership.Service
	circulation circulation.Service
	scheduler   *sweep.Scheduler
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logger, nil
}

func openDB(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// releaseOnError runs release when the surrounding function is failing and joins its error.
func releaseOnError(err *error, release func() error) {
	if *err != nil {
		*err = errors.Join(*err, release())
	}
}

func newApp(ctx context.Context) (_ *app, err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer releaseOnError(&err, func() error { return tel.Shutdown(context.Background()) })

	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer releaseOnError(&err, db.Close)

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Notify.QueueSize, cfg.Notify.Timeout, logger, metrics)

	events := eventstore.New()
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	rules := circulation.Rules{
		LoanPeriodDays: cfg.Lending.LoanPeriodDays,
		FinePerDay:     decimal.NewFromFloat(cfg.Lending.FinePerDay),
		MaxActiveLoans: cfg.Lending.MaxActiveLoans,
		MaxRenewals:    cfg.Lending.MaxRenewals,
		ReminderDays:   cfg.Lending.ReminderDays,
		LostBookFee:    decimal.NewFromFloat(cfg.Lending.LostBookFee),
	}
	circ, err := circulation.NewService(circulation.NewPostgresStore(db, events), dispatcher, rules,
		circulation.WithLogger(logger),
		circulation.WithMetrics(metrics),
	)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	scheduler := sweep.New(
		sweep.CirculationJobs(circ, sweep.Intervals{
			Overdue:      cfg.Sweep.OverdueInterval,
			Notices:      cfg.Sweep.NoticeInterval,
			ReminderDays: cfg.Lending.ReminderDays,
		}),
		sweep.WithLogger(logger),
		sweep.WithMetrics(metrics),
		sweep.WithRunTimeout(cfg.Sweep.RunTimeout),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		telemetry:  tel,
		dispatcher: dispatcher,
		tokens:     tokens,
		catalog: catalog.NewService(catalog.NewPostgresRepository(db, events),
			catalog.WithLogger(logger),
			catalog.WithMetrics(metrics),
		),
		membership: membership.NewService(membership.NewPostgresRepository(db, events), tokens,
			membership.WithLogger(logger),
			membership.WithMetrics(metrics),
			membership.WithRateLimit(cfg.Auth.LoginPerMinute),
		),
		circulation: circ,
		scheduler:   scheduler,
	}, nil
}

// close drains queued notifications before releasing the database.
func (a *app) close(ctx context.Context) error {
	a.dispatcher.Close()
	return errors.Join(
		a.db.Close(),
		a.telemetry.Shutdown(ctx),
	)
}

// closeInto closes a and joins any shutdown failure into err.
func (a *app) closeInto(err *error) {
	*err = errors.Join(*err, a.close(context.Background()))
}
