// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package start implements 'aquaops-agent start'.
package start

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/aquaops/aquaops-agent/pkg/api"
	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/cepsync"
	"github.com/aquaops/aquaops-agent/pkg/config"
	"github.com/aquaops/aquaops-agent/pkg/dispatcher"
	"github.com/aquaops/aquaops-agent/pkg/persistentcache"
	"github.com/aquaops/aquaops-agent/pkg/poller"
	"github.com/aquaops/aquaops-agent/pkg/remoteproc"
	"github.com/aquaops/aquaops-agent/pkg/rules"
	"github.com/aquaops/aquaops-agent/pkg/util/log"
)

// Exit codes reported to the init system.
const (
	ExitConfig    = 2
	ExitStartup   = 3
	ExitScheduler = 4
)

// ExitError carries the process exit code alongside the cause.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// MakeCommand returns the start subcommand.
func MakeCommand() *cobra.Command {
	var confPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the event detection agent",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(confPath)
		},
	}
	cmd.Flags().StringVarP(&confPath, "cfgpath", "c", "/etc/aquaops-agent", "directory containing aquaops.yaml")
	return cmd
}

func run(confPath string) error {
	cfg := config.Aquaops
	if err := config.Load(cfg, confPath, "."); err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	if err := log.SetupLogger(cfg.GetString("log_level")); err != nil {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("unable to set up logger: %w", err)}
	}
	defer log.Flush()

	db, err := openDatabase(cfg)
	if err != nil {
		return &ExitError{Code: ExitStartup, Err: err}
	}
	defer db.Close()

	engine := cep.NewEngine()
	poll := poller.NewPoller(engine,
		poller.WithQueryTimeout(config.QueryTimeout(cfg)),
		poller.WithErrorBackoff(config.ErrorBackoff(cfg)),
	)

	remoteClient := remoteproc.NewClient(remoteproc.Config{
		Command: cfg.GetString("remote_process.command"),
		Args:    cfg.GetStringSlice("remote_process.args"),
		Env: map[string]string{
			"SUPABASE_URL":      cfg.GetString("supabase_url"),
			"SUPABASE_ANON_KEY": cfg.GetString("supabase_anon_key"),
		},
		CallTimeout: time.Duration(cfg.GetInt("remote_process.call_timeout_seconds")) * time.Second,
	})
	assistant := remoteproc.NewWorkAssistant(remoteClient)
	defer assistant.Close()

	dispatch := dispatcher.NewDispatcher(
		dispatcher.WithMaxNotifications(cfg.GetInt("notifications.max")),
		dispatcher.WithProcessRunner(assistant),
	)
	engine.AddTriggerCallback(dispatch.HandleTrigger)

	var syncClient *cepsync.Client
	if url := cfg.GetString("cep_service_url"); url != "" {
		syncClient = cepsync.NewClient(url)
	}

	registryOpts := []rules.RegistryOption{
		rules.WithSnapshotter(persistentcache.NewRuleSnapshot()),
	}
	if syncClient != nil {
		registryOpts = append(registryOpts, rules.WithRemoteSync(syncClient))
	}
	registry := rules.NewRegistry(engine, poll, registryOpts...)
	dispatch.AddTriggerObserver(registry.RecordTrigger)
	poll.AddCheckObserver(registry.RecordCheck)
	registry.Restore()

	poll.Start(db)
	engine.SetRunning(true)
	defer func() {
		engine.SetRunning(false)
		poll.Stop()
	}()

	serverOpts := []api.Option{api.WithQueryTimeout(config.QueryTimeout(cfg))}
	if syncClient != nil {
		serverOpts = append(serverOpts, api.WithRemoteCEP(syncClient))
	}
	server := api.NewServer(engine, poll, registry, dispatch, db, serverOpts...)

	addr := fmt.Sprintf("%s:%d", cfg.GetString("api.host"), cfg.GetInt("api.port"))
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(addr) }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		log.Infof("received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			return &ExitError{Code: ExitScheduler, Err: fmt.Errorf("api server failed: %w", err)}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("api shutdown: %v", err)
	}
	return nil
}

func openDatabase(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", config.DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.GetInt("database.max_open_conns"))

	timeout := time.Duration(cfg.GetInt("database.connect_timeout_seconds")) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	log.Infof("connected to database %s@%s", cfg.GetString("database.name"), cfg.GetString("database.host"))
	return db, nil
}
