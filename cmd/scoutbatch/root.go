package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/scoutbatch-go/internal/batch/server"
	"github.com/scoutbatch-go/pkg/config"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/middleware/auth"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "scoutbatch",
		Short:         "Batches search index updates and flushes them on size or age",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./configs/scoutbatch.yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newHashKeyCommand())
	return cmd
}

func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load("scoutbatch")
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Logger.ToLoggerConfig()), nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sweep scheduler and the change event consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			srv, err := server.New(cfg, log)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			// Wait for interrupt signal
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			// Graceful shutdown with timeout
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error("Server forced to shutdown", "error", err)
				return err
			}

			log.Info("Server exited")
			return nil
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "check-batch-index-status",
		Short: "Flush every pending batch that is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			app, err := server.NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if entityType != "" {
				results, err := app.Service.CheckAndFlushAll(ctx, entityType)
				for _, r := range results {
					fmt.Fprintf(out, "%s\t%s\tflushed=%t\treason=%s\tdelivered=%d\n",
						r.Key.EntityType, r.Key.Direction, r.Flushed, r.Reason, r.Delivered)
				}
				return err
			}

			report, err := app.Service.CheckAndFlushAllActive(ctx)
			fmt.Fprintf(out, "visited %d entity types, flushed %d batches in %s\n",
				len(report.Visited), report.Flushed(), report.Duration)
			for _, t := range report.Misconfigured {
				fmt.Fprintf(out, "removed misconfigured entity type %s\n", t)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&entityType, "entity", "e", "", "only check this entity type")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending batches per active entity type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			app, err := server.NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := cmd.Context()
			types, err := app.Service.ActiveEntityTypes(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY TYPE\tDIRECTION\tSIZE\tAGE\tDUE")
			for _, t := range types {
				pending, err := app.Service.Status(ctx, t)
				if err != nil {
					return err
				}
				for _, b := range pending {
					reason, age := app.Service.Due(b)
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t, b.Direction, b.Len(), age.Truncate(time.Second), reason)
				}
			}
			return w.Flush()
		},
	}
}

func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the bcrypt hash of an API key for server.api_keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
