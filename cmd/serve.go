package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ralph/internal/api"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/orchestration/session"
)

const shutdownTimeout = 30 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API",
	Long: `Start the HTTP API that creates, runs and monitors sessions.

Unfinished sessions saved in the history database are restored in the paused
state and can be resumed with POST /api/sessions/{id}/start. On SIGINT or
SIGTERM running sessions are paused before the server exits.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTracing, err := startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()

	db, err := openHistory(cfg)
	if err != nil {
		return err
	}
	var (
		opts        []session.Option
		handlerOpts = []api.HandlerOption{api.WithSessionDefaults(cfg.Session)}
	)
	if db != nil {
		defer func() { _ = db.Close() }()
		repo := db.SessionRepository()
		opts = append(opts, session.WithRepository(repo))
		handlerOpts = append(handlerOpts, api.WithHistory(repo))
	}

	mgr, err := newManager(cfg, opts...)
	if err != nil {
		return err
	}
	if _, err := mgr.Restore(ctx); err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := api.NewServer(addr, api.NewHandler(mgr, handlerOpts...).Routes())

	errCh := make(chan error, 1)
	log.SafeGo("api-server", func() { errCh <- srv.ListenAndServe() })
	fmt.Fprintf(cmd.OutOrStdout(), "ralph listening on http://%s\n", addr)

	select {
	case <-ctx.Done():
		log.Info(log.CatAPI, "shutting down", "cause", context.Cause(ctx))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving api: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatAPI, "api shutdown failed", err)
	}
	return mgr.Shutdown(shutdownCtx)
}
