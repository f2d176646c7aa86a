// cmd/library/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "library",
		Short: "Library circulation service",
		Long: `Runs the library lending API: catalogue, members and book circulation
with overdue tracking, fines and reminders.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background sweep scheduler",
		RunE:  runServe,
	}
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run the overdue, notice and reminder jobs once and exit",
		RunE:  runSweep,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}
	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	createUserCmd = &cobra.Command{
		Use:   "create",
		Short: "Create an approved staff or admin account",
		RunE:  runCreateUser,
	}
	chaosCmd = &cobra.Command{
		Use:   "chaos",
		Short: "Run concurrency experiments against the lending invariants",
		RunE:  runChaos,
	}
	chaosConcurrency int
	chaosDuration    time.Duration
	chaosInterval    time.Duration

	userEmail    string
	userName     string
	userPassword string
	userRole     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(createUserCmd)
	rootCmd.AddCommand(chaosCmd)

	chaosCmd.Flags().IntVar(&chaosConcurrency, "concurrency", 10, "borrowers racing in each experiment")
	chaosCmd.Flags().DurationVar(&chaosDuration, "duration", 5*time.Second, "how long to observe after injecting")
	chaosCmd.Flags().DurationVar(&chaosInterval, "interval", 500*time.Millisecond, "probe sampling interval")

	createUserCmd.Flags().StringVar(&userEmail, "email", "", "account email")
	createUserCmd.Flags().StringVar(&userName, "name", "", "display name")
	createUserCmd.Flags().StringVar(&userPassword, "password", "", "initial password")
	createUserCmd.Flags().StringVar(&userRole, "role", "admin", "role: student, staff or admin")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("name")
	_ = createUserCmd.MarkFlagRequired("password")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
