package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xchange/internal/channel"
	"github.com/roach88/xchange/internal/config"
	"github.com/roach88/xchange/internal/engine"
	"github.com/roach88/xchange/internal/metrics"
	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/store"
)

// limiterIdleTTL is how long an idle sender's rate bucket is kept.
const limiterIdleTTL = 10 * time.Minute

// node is one opened domain: its config, store, engine and channel.
type node struct {
	cfg     config.Config
	domain  model.DomainID
	store   *store.SQLite
	spool   *channel.Spool
	engine  *engine.Engine
	metrics *metrics.Recorder
	logger  *slog.Logger
	out     *OutputFormatter
}

// loadConfig reads the config file and environment, then applies flags
// that were set explicitly.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Domain != "" {
		cfg.Domain = opts.Domain
	}
	if opts.DB != "" {
		cfg.DB = opts.DB
	}
	if opts.Spool != "" {
		cfg.Spool = opts.Spool
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openNode opens the store, spool and engine described by the effective
// config. The caller must Close the node.
func openNode(cmd *cobra.Command, opts *RootOptions) (*node, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	domain, err := cfg.DomainID()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid domain", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	n := &node{
		cfg:    cfg,
		domain: domain,
		logger: logger,
		out: &OutputFormatter{
			Format:  opts.Format,
			Writer:  cmd.OutOrStdout(),
			Verbose: opts.Verbose,
		},
	}

	n.store, err = store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var sender channel.Sender
	if cfg.Spool != "" {
		n.spool, err = channel.OpenSpool(cfg.Spool, domain)
		if err != nil {
			n.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open spool", err)
		}
		sender = n.spool
	}

	auto, err := cfg.AutoAcceptDevices()
	if err != nil {
		n.Close()
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	n.metrics, err = metrics.New(domain)
	if err != nil {
		n.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create metrics", err)
	}

	var now engine.TimeSource = engine.SystemTime{}
	if opts.Now >= 0 {
		now = engine.FixedTime(opts.Now)
	}

	n.engine, err = engine.New(commandContext(cmd), domain, n.store, sender,
		engine.WithTimeSource(now),
		engine.WithAcceptPolicy(engine.NewAutoAccept(auto...)),
		engine.WithRecorder(n.metrics),
		engine.WithLogger(logger),
		engine.WithInboundLimiter(channel.NewMapLimiter(cfg.Inbound.Rate, cfg.Inbound.Burst, limiterIdleTTL)),
	)
	if err != nil {
		n.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return n, nil
}

// Close releases the store.
func (n *node) Close() {
	if n.store == nil {
		return
	}
	if err := n.store.Close(); err != nil {
		n.logger.Error("error closing database", "error", err)
	}
}

// registerRemotes mirrors the remote devices listed in the config. A mirror
// that holds an active order keeps its current profile.
func (n *node) registerRemotes(ctx context.Context) {
	for _, rd := range n.cfg.RemoteDevices {
		device, err := model.ParseAccountID(rd.Device)
		if err != nil {
			n.logger.Warn("skipping remote device", "device", rd.Device, "error", err)
			continue
		}
		home, err := model.ParseDomainID(rd.Home)
		if err != nil {
			n.logger.Warn("skipping remote device", "device", rd.Device, "error", err)
			continue
		}
		if err := n.engine.RegisterRemote(ctx, device, home, rd.Penalty, rd.WorkDuration); err != nil {
			n.logger.Warn("remote device not refreshed", "device", device, "home", home, "error", err)
			continue
		}
		n.logger.Info("remote device registered", "device", device, "home", home)
	}
}

// commandContext returns the command's context, or Background when the
// command runs without one (as in tests calling Execute directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseAccount parses a flag value as an account identifier.
func parseAccount(flag, raw string) (model.AccountID, error) {
	id, err := model.ParseAccountID(raw)
	if err != nil {
		return "", WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", flag), err)
	}
	return id, nil
}
