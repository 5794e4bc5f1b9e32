package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/aide/pkg/aide/agent"
	"github.com/jholhewres/aide/pkg/aide/bus"
	"github.com/jholhewres/aide/pkg/aide/config"
	"github.com/jholhewres/aide/pkg/aide/directions"
	"github.com/jholhewres/aide/pkg/aide/jobs"
	"github.com/jholhewres/aide/pkg/aide/llm"
	"github.com/jholhewres/aide/pkg/aide/memory"
	"github.com/jholhewres/aide/pkg/aide/notify"
	"github.com/jholhewres/aide/pkg/aide/scheduler"
	"github.com/jholhewres/aide/pkg/aide/server"
	"github.com/jholhewres/aide/pkg/aide/skills"
	"github.com/jholhewres/aide/pkg/aide/store"
	"github.com/jholhewres/aide/pkg/aide/thread"
	"github.com/jholhewres/aide/pkg/aide/tools"
)

// newServeCmd creates the `aide serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the HTTP API and the job scheduler.

Examples:
  aide serve
  aide serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.SlogLevel()
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──
	db, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// ── Core services ──
	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.ChatModel, cfg.LLM.EmbeddingModel, logger)
	eventBus := bus.New(logger)
	notifier := notify.New(cfg.Notify.Server, cfg.Notify.Topic, logger)

	directionsClient, err := directions.New(cfg.MapsAPIKey, logger)
	if err != nil {
		return err
	}

	memorySvc := memory.New(db, llmClient, logger)
	threadSvc := thread.New(db, logger)
	jobSvc := jobs.New(db, logger)

	// ── Skills ──
	skillRegistry := skills.NewRegistry()
	if directionsClient.Enabled() {
		skillRegistry.Register(skills.NewDepartureCheck(directionsClient, notifier))
	}

	// ── Tools ──
	toolRegistry := tools.NewRegistry(logger)
	toolRegistry.Register(
		tools.NewRememberTool(memorySvc),
		tools.NewRecallTool(memorySvc),
		tools.NewDatetimeTool(),
		tools.NewFetchURLTool(),
		tools.NewNotifyTool(notifier),
		tools.NewListJobsTool(jobSvc),
		tools.NewCreateJobTool(jobSvc),
		tools.NewUpdateJobTool(jobSvc),
		tools.NewDeleteJobTool(jobSvc),
		tools.NewListSkillsTool(skillRegistry),
	)
	if directionsClient.Enabled() {
		toolRegistry.Register(tools.NewDirectionsTool(directionsClient))
	}

	// ── Agent ──
	agentSvc := agent.New(threadSvc, memorySvc, llmClient, toolRegistry, eventBus, cfg.Agent.MaxIterations, logger)
	agent.NewTitleHandler(eventBus, threadSvc, llmClient, logger)

	// ── Scheduler ──
	sched := scheduler.New(db, threadSvc, agentSvc, skillRegistry, notifier, cfg.AppURL, logger)
	sched.Start()

	// ── HTTP server ──
	srv := server.New(cfg.Port, threadSvc, memorySvc, jobSvc, agentSvc, db, eventBus, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sched.Stop()
		return err
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Drain HTTP first, then the scheduler; interrupted runs are
	// recovered by lease expiry on the next start.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	sched.Stop()

	logger.Info("shutdown complete")
	return nil
}
