package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joyent/vm-agent/internal/coalescer"
	"github.com/joyent/vm-agent/internal/config"
	"github.com/joyent/vm-agent/internal/inventory"
	"github.com/joyent/vm-agent/internal/localmgr"
	"github.com/joyent/vm-agent/internal/models"
	"github.com/joyent/vm-agent/internal/reconciler"
	"github.com/joyent/vm-agent/internal/watcher"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "vm-agent",
		Short: "Reconciles this node's VMs against Inventory",
		Long:  "vm-agent watches the local VM manager for create/modify/delete activity and keeps Inventory's record of this node's VMs in sync.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	config.BindFlags(cmd.Flags(), v)
	return cmd
}

func run(v *viper.Viper) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	sugar := log.Sugar()
	printBanner(cfg)
	sugar.Infow("starting vm-agent", "config", cfg.DebugMap())

	invClient, err := inventory.NewClient(cfg.Inventory, cfg.Agent.Version, cfg.Agent.NodeID)
	if err != nil {
		return fmt.Errorf("build inventory client: %w", err)
	}

	localMgr := localmgr.New(localmgr.OSRunner{}, cfg.LocalMgr.EventStreamURL)

	// Subscriber wired in below, once the engine exists (SetSubscriber);
	// the coalescer is constructed first because the engine's constructor
	// takes it as a collaborator.
	vw := coalescer.New(sugar, nil)

	watchers := []watcher.Watcher{
		watcher.NewFilesystemWatcher(watcher.Config{Log: sugar, UpdateVM: submitFunc(vw, "filesystem")}, cfg.LocalMgr.ConfigDir),
		watcher.NewPeriodicPoller(watcher.Config{Log: sugar, UpdateVM: submitFunc(vw, "periodic")}, localMgr, cfg.Agent.PeriodicPollInterval),
	}
	if cfg.Agent.EnableEventStream {
		watchers = append(watchers, watcher.NewEventStreamWatcher(watcher.Config{Log: sugar, UpdateVM: submitFunc(vw, "eventstream")}, localMgr))
	}
	if cfg.Agent.EnableStateEventWatcher {
		watchers = append(watchers, watcher.NewStateEventWatcher(watcher.Config{Log: sugar, UpdateVM: submitFunc(vw, "stateevent")}, localMgr))
	}

	engine := reconciler.New(sugar, cfg.Agent.NodeID, invClient, localMgr, watchers, vw, cfg.Agent.InitialUpdateDelay, cfg.Agent.MaxUpdateDelay)
	vw.SetSubscriber(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		sugar.Warn("engine did not stop within the shutdown grace period")
	}

	return nil
}

// submitFunc closes watcherName over VmWatcher.Submit so each watcher gets
// its own identity in the coalescer's diagnostics without Config needing a
// name field of its own.
func submitFunc(vw *coalescer.VmWatcher, watcherName string) watcher.UpdateFunc {
	return func(id uuid.UUID, kind models.EventKind, partial map[string]any) {
		vw.Submit(id, kind, partial, watcherName)
	}
}

// printBanner prints a short colorized status line so an operator watching
// the terminal can confirm identity and target without grepping logs.
func printBanner(cfg config.Configuration) {
	bold := color.New(color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s  node=%s  inventory=%s  backend=%s\n",
		bold(color.GreenString("vm-agent")), cyan(cfg.Agent.NodeID), cyan(cfg.Inventory.BaseURL), cyan(cfg.LocalMgr.Backend))
}

func newLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
