package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hiring-pipeline-agents/internal/api"
	"hiring-pipeline-agents/internal/supervisor"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var workers []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured agents until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd.Context(), ctx, workers)
		},
	}
	cmd.Flags().StringSliceVar(&workers, "workers", nil, "Agents to run (intake, workflow, interview, combined)")
	return cmd
}

func runAgents(cmdCtx context.Context, ctx *commandContext, workers []string) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.configWithWorkers(workers)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := buildRuntime(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("build agents", zap.Error(err))
		return err
	}
	defer rt.Close()

	sup := supervisor.New(cfg.ShutdownGrace, logger, supervisor.WithLockFile(cfg.LockPath))
	for _, sch := range rt.schedulers {
		if err := sup.Register(sch); err != nil {
			return err
		}
	}
	if err := sup.Start(signalCtx); err != nil {
		logger.Error("start agents", zap.Error(err))
		return err
	}

	var httpServer *http.Server
	if cfg.MetricsAddr != "" {
		httpServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: api.New(sup, logger).Router(),
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server stopped", zap.Error(err))
			}
		}()
		logger.Info("admin listening", zap.String("addr", cfg.MetricsAddr))
	}

	logger.Info("agents running",
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("conditional_updates", cfg.ConditionalUpdates),
	)
	<-signalCtx.Done()
	logger.Info("shutdown requested")

	if httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		_ = httpServer.Shutdown(shutdownCtx)
		cancelShutdown()
	}
	sup.Stop()
	return nil
}
