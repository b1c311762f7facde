package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "kioskd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml"
	}

	serve := newServeCmd()
	cmd := &cobra.Command{
		Use:          "kioskd",
		Short:        "Offline-resilient backend for the attendance kiosk",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "Path to the yaml config file")
	cmd.AddCommand(serve, newCacheCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local kiosk API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			return app.serve(cmd.Context())
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or maintain the persisted identity cache",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print statistics of today's identity cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := newApp(cmd.Context(), configPath)
				if err != nil {
					return err
				}
				defer app.close()

				stats := app.cache.Stats(app.cache.Load(cmd.Context()))
				fmt.Fprintf(cmd.OutOrStdout(), "date:           %s\n", stats.DateCreated)
				fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", stats.SchemaVersion)
				fmt.Fprintf(cmd.OutOrStdout(), "entries:        %d (%d fresh, %d expired)\n", stats.Total, stats.Fresh, stats.Expired)
				fmt.Fprintf(cmd.OutOrStdout(), "checked in:     %d\n", stats.CheckedIn)
				fmt.Fprintf(cmd.OutOrStdout(), "checked out:    %d\n", stats.CheckedOut)
				if !stats.LastSync.IsZero() {
					fmt.Fprintf(cmd.OutOrStdout(), "last sync:      %s\n", stats.LastSync.Format("2006-01-02 15:04:05"))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete today's identity cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := newApp(cmd.Context(), configPath)
				if err != nil {
					return err
				}
				defer app.close()

				if err := app.cache.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "identity cache cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete identity caches of previous days",
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := newApp(cmd.Context(), configPath)
				if err != nil {
					return err
				}
				defer app.close()

				removed, err := app.cache.CleanupOld(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d old identity caches\n", removed)
				return nil
			},
		},
	)
	return cmd
}
