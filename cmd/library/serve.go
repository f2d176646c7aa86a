package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/auth"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/catalog"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/circulation"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/logging"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/membership"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/web"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			a.logger.Error("shutdown failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.router(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting library service", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfg.Sweep.Enabled {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}

	return g.Wait()
}

func runSweep(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	return a.scheduler.RunOnce(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("schema applied")
	return nil
}

func runCreateUser(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	user, err := a.membership.Register(ctx, membership.Registration{
		Email:    userEmail,
		Name:     userName,
		Password: userPassword,
		Role:     auth.Role(userRole),
	})
	if err != nil {
		return err
	}
	if !user.Approved {
		if user, err = a.membership.Approve(ctx, user.ID, true, user.ID); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
	return nil
}

// router mounts every HTTP endpoint under /api plus the health and metrics probes.
func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(a.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.telemetry.MetricsHandler())

	members := membership.NewHandler(a.membership)
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", members.AuthRoutes)

		r.Group(func(r chi.Router) {
			r.Use(a.tokens.Middleware)
			r.Route("/books", catalog.NewHandler(a.catalog).Routes)
			r.Route("/users", members.Routes)
			r.Route("/transactions", circulation.NewHandler(a.circulation).Routes)
		})
	})
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.ErrorContext(ctx, "health check failed", "error", err)
		web.JSON(w, http.StatusServiceUnavailable, web.Envelope{Success: false, Message: "database unavailable"})
		return
	}
	web.OK(w, http.StatusOK, "ok", map[string]int{"open_connections": a.db.Stats().OpenConnections})
}
