package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"media-uploader/internal/config"
	"media-uploader/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload endpoint and run the janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			placer, err := a.openPlacer(ctx)
			if err != nil {
				return err
			}

			srv := server.New(server.Config{
				Addr:               a.cfg.Addr,
				MaxContentLength:   a.cfg.MaxContentLength,
				RateLimitPerMinute: a.cfg.RateLimitPerMinute,
				Version:            Version,
			}, server.Deps{
				Uploads:  a.coordinator(placer),
				Checks:   a.checks,
				Gatherer: a.registry,
				Metrics:  a.metrics,
				Logger:   a.logger,
			})

			a.logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Interface("config", a.cfg.Summary()).
				Msg("starting")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				return a.janitor().Run(gctx, a.cfg.SweepInterval)
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info().Msg("shutting down")
				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			a.logger.Info().Msg("shutdown complete")
			return nil
		},
	}
}

func newSweepCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one janitor pass over the holding area and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.janitor().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"scanned %d, deleted %d, failed %d, exempt %d, pruned %d in %s\n",
				res.Scanned, res.Deleted, res.Failed, res.Exempt, res.Pruned, res.Duration.Round(time.Millisecond))
			return err
		},
	}
}

func newCheckConfigCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print it without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary := cfg.Summary()
			names := make([]string, 0, len(summary))
			for k := range summary {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(out, "%-22s %s\n", k, summary[k])
			}
			for _, w := range cfg.Warnings() {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "largest accepted file: %s\n", humanize.IBytes(uint64(cfg.MaxFileSize)))
			return nil
		},
	}
}
