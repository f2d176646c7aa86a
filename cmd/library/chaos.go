// cmd/library/chaos.go
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/chaos"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/membership"
)

var errHypothesisViolated = errors.New("chaos hypothesis violated")

// runChaos runs the lending experiments against the configured database. Each experiment
// creates and retires its own scratch book and borrowers.
func runChaos(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.closeInto(&err)

	deps := chaos.Deps{
		DB:      a.db,
		Catalog: a.catalog,
		// Scratch borrowers are registered in a burst, so the login limiter is bypassed.
		Members: membership.NewService(membership.NewPostgresRepository(a.db, eventstore.New()), a.tokens,
			membership.WithLogger(a.logger),
			membership.WithRateLimit(0),
		),
		Circulation: a.circulation,
	}

	engine := chaos.NewEngine(a.logger, chaosInterval)
	var failed bool
	for _, exp := range chaos.Experiments(deps, chaosConcurrency, chaosDuration) {
		result, err := engine.Run(ctx, exp)
		if err != nil {
			return fmt.Errorf("%s: %w", exp.Name, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
		for _, v := range result.Violations {
			fmt.Fprintf(cmd.OutOrStdout(), "  violation %s: expected %v, got %v\n", v.Probe, v.Expected, v.Actual)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  error in %s: %s\n", e.Component, e.Error)
		}
		failed = failed || !result.HypothesisHeld
	}
	if failed {
		return errHypothesisViolated
	}
	return nil
}
