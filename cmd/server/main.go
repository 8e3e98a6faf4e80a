package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"prospectcrm/internal/app/server"
	"prospectcrm/internal/platform/config"
	"prospectcrm/internal/platform/db"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "prospectcrm",
		Short:         "Prospect progression CRM server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newRecomputeCommand(), newSweepCommand())
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	ctx, stop := signalContext()
	defer stop()

	app, err := server.New(ctx, config.Load())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	return app.Run(ctx)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations and seed data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			server.NewLogger(cfg)
			ctx, stop := signalContext()
			defer stop()

			pool, err := db.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
				return err
			}
			if cfg.RunSeed {
				return db.Seed(ctx, pool, cfg)
			}
			return nil
		},
	}
}

// offline builds the app without migrating or seeding, for one-shot commands.
func offline(ctx context.Context) (*server.App, error) {
	cfg := config.Load()
	cfg.RunMigrations = false
	cfg.RunSeed = false
	return server.New(ctx, cfg)
}

func newRecomputeCommand() *cobra.Command {
	var customerID, stageID int64
	var repID string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute one stage score for a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			app, err := offline(ctx)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			score, err := app.Progression.RecomputeScore(ctx, customerID, stageID, repID)
			if err != nil {
				return err
			}
			return printJSON(cmd, score)
		},
	}
	cmd.Flags().Int64Var(&customerID, "customer", 0, "customer id (required)")
	cmd.Flags().Int64Var(&stageID, "stage", 0, "stage id (required)")
	cmd.Flags().StringVar(&repID, "rep", "", "rep user id (defaults to the customer's owner)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recompute current-stage scores for every customer in progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			app, err := offline(ctx)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			res, err := app.Jobs.SweepNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
