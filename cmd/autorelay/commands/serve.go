package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/autorelay/pkg/autorelay/channels"
	"github.com/jholhewres/autorelay/pkg/autorelay/channels/discord"
	"github.com/jholhewres/autorelay/pkg/autorelay/channels/whatsapp"
	"github.com/jholhewres/autorelay/pkg/autorelay/contacts"
	"github.com/jholhewres/autorelay/pkg/autorelay/relay"
	"github.com/jholhewres/autorelay/pkg/autorelay/rules"
	"github.com/jholhewres/autorelay/pkg/autorelay/scheduler"
	"github.com/jholhewres/autorelay/pkg/autorelay/storage"
)

// newServeCmd creates the `autorelay serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay daemon",
		Long: `Start autorelay as a daemon, connecting the enabled channels and
processing messages until interrupted.

Examples:
  autorelay serve
  autorelay serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("%w\nRun: autorelay setup", err)
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	// ── Resolve secrets ──
	// Keyring first, then environment, then the raw config value.
	relay.ResolveDiscordToken(cfg, logger)

	// ── Open storage ──
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ruleStore, err := rules.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	allowList, err := contacts.NewAllowList(db, cfg.Contacts.DefaultCountryCode, logger)
	if err != nil {
		return fmt.Errorf("loading allow-list: %w", err)
	}

	gate := relay.NewGate(cfg.Admins, allowList.Normalize, logger)
	if gate.OpenMode() {
		logger.Warn("no admins configured, command surface is open to everyone")
	}

	// ── Register channels ──
	manager := channels.NewManager(logger)

	if cfg.Channels.Discord.Enabled {
		if cfg.Channels.Discord.Token == "" || relay.IsEnvReference(cfg.Channels.Discord.Token) {
			logger.Warn("discord enabled but no token resolved, skipping channel")
		} else {
			dc := discord.New(discord.Config{
				Token:     cfg.Channels.Discord.Token,
				GuildID:   cfg.Channels.Discord.GuildID,
				ChannelID: cfg.Channels.Discord.ChannelID,
			}, logger)
			if err := manager.Register(dc); err != nil {
				logger.Error("failed to register discord", "error", err)
			}
		}
	}

	if cfg.Channels.WhatsApp.Enabled {
		wa := whatsapp.New(whatsapp.Config{
			SessionPath:  cfg.Channels.WhatsApp.SessionPath,
			IgnoreGroups: cfg.Channels.WhatsApp.IgnoreGroups,
		}, logger)
		if err := manager.Register(wa); err != nil {
			logger.Error("failed to register whatsapp", "error", err)
		}
	}

	// ── Wire the relay and the scheduler ──
	// The scheduler needs the relay's send path and the relay needs the
	// scheduler for the /schedule commands, so the send func closes over
	// the relay variable assigned right after.
	var rel *relay.Relay
	sched := scheduler.New(scheduler.NewSQLiteStorage(db),
		func(ctx context.Context, contactID, message string) error {
			return rel.SendDirect(ctx, contactID, message)
		}, logger)
	sched.SetSendTimeout(cfg.Relay.SendTimeout)

	rel = relay.New(cfg, manager, ruleStore, allowList, sched, gate, logger)
	sched.SetReadyCheck(rel.TransportReady)

	// ── Start ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- rel.Run(ctx)
	}()

	logger.Info("autorelay running, press Ctrl+C to stop",
		"name", cfg.Name,
		"config", configPath,
		"rules", ruleStore.Count(),
		"contacts", allowList.Count(),
		"schedules", sched.Count(),
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping...")
	case err := <-runDone:
		if err != nil {
			logger.Error("relay loop exited", "error", err)
		}
	}

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		rel.Stop()
		manager.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the explicit --config path or by
// discovery. Returns (config, configPath, error).
func resolveConfig(cmd *cobra.Command) (*relay.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	// Try explicit path first.
	if configPath != "" {
		cfg, err := relay.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	// Auto-discover config file.
	if found := relay.FindConfigFile(); found != "" {
		cfg, err := relay.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return nil, "", fmt.Errorf("no configuration file found")
}
