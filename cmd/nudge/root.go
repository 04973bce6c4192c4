package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/nudge/internal/config"
	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/logging"
	"github.com/dukerupert/nudge/internal/push"
	"github.com/dukerupert/nudge/internal/secret"
	"github.com/dukerupert/nudge/internal/store"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "nudge",
		Short:         "Recurring routine reminders with FEFO stock tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file (NUDGE_* env vars override it)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTickCommand(opts))
	cmd.AddCommand(newVAPIDKeysCommand())
	return cmd
}

// app holds what every long-running command needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB
	pushStore  *store.PushStore
	dispatcher *push.Dispatcher
	scheduler  *push.Scheduler
}

func bootstrap(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	box, err := secret.New(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("init secret box: %w", err)
	}
	if box == nil {
		logger.Warn("NUDGE_SECRET_KEY not set, push endpoint keys stored unencrypted")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pushLogger := logger.With("component", "push")
	pushStore := store.NewPushStore(db, box)

	// Leave the transport a nil interface when unconfigured so the
	// dispatcher reports itself disabled.
	var transport push.Transport
	if cfg.Push.Configured() {
		transport = push.NewService(cfg.Push)
	} else {
		pushLogger.Warn("VAPID keys not configured, push notifications disabled")
	}
	dispatcher := push.NewDispatcher(transport, pushStore, cfg.PushConcurrency, pushLogger)

	scheduler := push.NewScheduler(
		store.NewUserStore(db),
		store.NewRoutineStore(db),
		store.NewNotificationStore(db),
		dispatcher,
		cfg.Scheduler,
		logger.With("component", "scheduler"),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		pushStore:  pushStore,
		dispatcher: dispatcher,
		scheduler:  scheduler,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
}
