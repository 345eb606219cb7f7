package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve this domain: poll the spool and apply inbound frames",
		Long: `Start the engine for this domain.

The node registers the remote devices listed in the config, then polls
its spool inbox every poll_interval and feeds each frame through the
per-sender rate limiter into the single-writer engine loop. When
metrics_addr is set, Prometheus metrics are served at /metrics.

Example:
  xchange run --config ./alpha.toml
  xchange run --domain alpha --db ./alpha.db --spool /var/spool/xchange --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(rootOpts, cmd)
		},
	}
	return cmd
}

func runNode(opts *RootOptions, cmd *cobra.Command) error {
	n, err := openNode(cmd, opts)
	if err != nil {
		return err
	}
	defer n.Close()
	if n.spool == nil {
		return NewExitError(ExitCommandError, "run requires a spool (--spool or config)")
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			n.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	n.registerRemotes(ctx)

	var srv *http.Server
	if n.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.metrics.Handler())
		srv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error("metrics server failed", "addr", n.cfg.MetricsAddr, "error", err)
			}
		}()
		n.logger.Info("serving metrics", "addr", n.cfg.MetricsAddr)
	}

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- n.engine.Run(ctx)
	}()

	n.logger.Info("node started",
		"domain", n.domain,
		"db", n.cfg.DB,
		"spool", n.cfg.Spool,
		"poll_interval", n.cfg.PollInterval,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Node %s started. Polling %s...\n", n.domain, n.cfg.Spool)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	pollSpool(ctx, n)

	n.engine.Stop()
	runErr := <-engineDone
	// Frames already removed from the spool would otherwise be lost.
	if applied := n.engine.ProcessPending(context.Background()); applied > 0 {
		n.logger.Info("applied queued frames on shutdown", "count", applied)
	}
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			n.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	n.logger.Info("node stopped gracefully", "domain", n.domain)
	return nil
}

// pollSpool moves inbox frames into the engine queue until ctx ends.
func pollSpool(ctx context.Context, n *node) {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		deliveries, err := n.spool.Receive(ctx)
		if err != nil && ctx.Err() == nil {
			n.logger.Error("spool read failed", "error", err)
		}
		for _, d := range deliveries {
			// Enqueue logs and counts rate-limited frames itself.
			n.engine.Enqueue(d)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
