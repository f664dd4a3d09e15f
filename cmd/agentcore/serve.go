package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/kestrelai/agentcore/internal/agentloop"
	"github.com/kestrelai/agentcore/internal/auth"
	"github.com/kestrelai/agentcore/internal/config"
	"github.com/kestrelai/agentcore/internal/gateway"
	"github.com/kestrelai/agentcore/internal/jobs"
	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/pairing"
	"github.com/kestrelai/agentcore/internal/security"
	"github.com/kestrelai/agentcore/internal/session"
	"github.com/kestrelai/agentcore/internal/tools/files"
	"github.com/kestrelai/agentcore/internal/workerpool"
)

// buildServeCmd creates the "serve" command that starts the Gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentcore gateway",
		Long: `Start the agentcore gateway with the Session Manager, Pairing Manager,
and the Agent Loop's supporting components.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting agentcore gateway",
		"version", version, "commit", commit, "config", configPath, "addr", cfg.Gateway.Addr)

	pairingMgr := pairing.NewWithTTLs(cfg.Pairing.CodeTTL, cfg.Pairing.TokenTTL)

	var jwtSvc *auth.Service
	if cfg.Auth.Secret != "" {
		jwtSvc = auth.NewService(cfg.Auth.Secret, cfg.Auth.Expiry)
	}

	metrics := gateway.NewMetrics()

	pool := workerpool.New(workerpool.Config{
		MaxWorkers:  cfg.Agent.MaxWorkers,
		TaskTimeout: cfg.Agent.TaskTimeout,
	})
	jobRecorder := jobs.NewRecorder(jobs.NewMemoryStore())

	registry := agentloop.NewRegistry()
	registry.Register(files.NewReadTool(files.Config{}))

	sessions := session.New(session.Options{
		Registry:         registry,
		MaxContextTokens: cfg.Agent.MaxContextTokens,
		PolicyFor: func(sc model.SessionConfig) *security.Policy {
			autonomy := model.AutonomyLevel(cfg.Agent.Autonomy)
			if autonomy == "" {
				autonomy = model.AutonomyReadonly
			}
			return security.NewPolicy(sc.Cwd, autonomy, nil)
		},
		LoopConfig: agentloop.Config{
			MaxIterations: cfg.Agent.MaxIterations,
			MaxRetries:    cfg.Agent.MaxRetries,
			Observer:      metrics.Observer(),
			Pool:          pool,
			Jobs:          jobRecorder,
		},
	})

	gw := gateway.New(gateway.Config{
		Addr:     cfg.Gateway.Addr,
		Sessions: sessions,
		Pairing:  pairingMgr,
		JWT:      jwtSvc,
		Logger:   slog.Default(),
		Metrics:  metrics,
	})

	if err := gw.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	evictionInterval := cfg.Agent.IdleEvictionInterval
	if evictionInterval <= 0 {
		evictionInterval = 5 * time.Minute
	}
	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", evictionInterval), func() {
		evicted := sessions.EvictIdle(evictionInterval * 6)
		if evicted > 0 {
			slog.Info("evicted idle sessions", "count", evicted)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule idle eviction: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("agentcore gateway started", "addr", cfg.Gateway.Addr)
	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	pool.Shutdown()

	slog.Info("agentcore gateway stopped gracefully")
	return nil
}
