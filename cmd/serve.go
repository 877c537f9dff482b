package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goblast/internal/config"
	"github.com/nextlevelbuilder/goblast/internal/content"
	"github.com/nextlevelbuilder/goblast/internal/driver"
	"github.com/nextlevelbuilder/goblast/internal/gateway"
	"github.com/nextlevelbuilder/goblast/internal/queue"
	"github.com/nextlevelbuilder/goblast/internal/recipients"
	"github.com/nextlevelbuilder/goblast/internal/send"
	"github.com/nextlevelbuilder/goblast/internal/session"
	"github.com/nextlevelbuilder/goblast/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (session, delivery queue, HTTP/WS surface)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Enabled, cfg.Tracing.Endpoint, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.WhatsApp.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	sessions, err := driver.OpenSessionStore(ctx, cfg.WhatsApp.DBPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	store, err := content.Open(ctx, content.Options{
		Backend: content.Backend(cfg.Content.Backend),
		Root:    cfg.Content.Root,
		S3: content.S3Config{
			Bucket: cfg.Content.S3.Bucket,
			Region: cfg.Content.S3.Region,
			Prefix: cfg.Content.S3.Prefix,
		},
	})
	if err != nil {
		return fmt.Errorf("open content store: %w", err)
	}

	cache := recipients.NewCache(0, 0) // defaults
	executor := send.NewExecutor(store, cache, cfg.WhatsApp.DefaultCountryCode)
	pacer := queue.NewIntervalPacer(cfg.Pacing())
	q := queue.New(cfg.Queue.Cap, pacer, executor)

	manager := session.NewManager(sessions.NewDriver, sessions, q, session.BackoffConfig{
		Initial:     time.Duration(cfg.WhatsApp.Backoff.InitialMs) * time.Millisecond,
		Max:         time.Duration(cfg.WhatsApp.Backoff.MaxMs) * time.Millisecond,
		Multiplier:  cfg.WhatsApp.Backoff.Multiplier,
		MaxAttempts: cfg.WhatsApp.Backoff.MaxAttempts,
	})

	coord := send.NewCoordinator(q, manager, send.Config{
		DefaultCountryCode: cfg.WhatsApp.DefaultCountryCode,
		ConnectGrace:       cfg.ConnectGrace(),
	})

	srv := gateway.NewServer(cfg.Gateway, manager, coord, q, store)

	gwNotify := srv.SessionNotifier()
	manager.SetNotifier(func(snap session.Snapshot) {
		gwNotify(snap)
		if snap.State == session.StateDisconnected {
			// Credentials were wiped; a different account may pair next.
			cache.Purge()
		}
	})

	// Pacing changes apply to a running queue without a restart.
	watcher, err := config.NewWatcher(cfgPath)
	if err == nil {
		watcher.OnChange(func(next *config.Config) {
			pacer.SetInterval(next.Pacing())
			slog.Info("pacing updated", "interval", next.Pacing())
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	} else {
		slog.Warn("config watch unavailable", "error", err)
	}

	if err := manager.Start(ctx); err != nil {
		slog.Warn("initial session start failed, will retry via backoff", "error", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Info("shutting down", "signal", sig.String())
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
		cancel()
	}()

	err = srv.ListenAndServe()

	manager.Stop()
	q.Close()
	if terr := shutdownTracing(context.Background()); terr != nil {
		slog.Warn("tracing shutdown failed", "error", terr)
	}
	return err
}
