// Command gracebot runs the personal assistant bot: a Feishu webhook server
// backed by an LLM agent with tools, memory, and per-user skills.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gracebot/internal/adapter/embedding"
	"gracebot/internal/adapter/gateway"
	"gracebot/internal/adapter/llm"
	"gracebot/internal/adapter/memory"
	"gracebot/internal/adapter/session"
	"gracebot/internal/adapter/skill"
	"gracebot/internal/adapter/tool"
	"gracebot/internal/domain"
	"gracebot/internal/infra/config"
	"gracebot/internal/infra/logger"
	"gracebot/internal/infra/tracer"
	"gracebot/internal/server"
	"gracebot/internal/usecase"
	"gracebot/internal/usecase/queue"
	"gracebot/internal/usecase/scheduling"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gracebot:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Session persistence.
	store, err := session.NewSQLiteStore(filepath.Join(cfg.DataDir, "gracebot.db"))
	if err != nil {
		return err
	}
	defer store.Close()
	sessions := usecase.NewSessionManager(store, log)

	// Model routing.
	httpClient := llm.NewHTTPClient(cfg.Models.ConnTimeout, cfg.Models.RespTimeout)
	openaiCompat := llm.NewOpenAIClient(httpClient, log)
	clients := map[domain.Provider]llm.ProviderClient{
		domain.ProviderAnthropic:  llm.NewAnthropicClient(httpClient, log),
		domain.ProviderOpenAI:     openaiCompat,
		domain.ProviderKimi:       openaiCompat,
		domain.ProviderVolcengine: openaiCompat,
	}
	router := llm.NewRouter(cfg.Models.Primary, cfg.Models.Fallbacks, cfg.Models.Profiles, clients, log)
	compactor := usecase.NewCompactor(router, cfg.Models.CompactionModel, log)

	// Memory and personas.
	embedder := embedding.NewCached(newEmbedder(cfg.Embedding), cfg.Embedding.CacheSize)
	memories := memory.NewManager(cfg.DataDir, embedder, log)
	personas := memory.NewPersonas(cfg.DataDir)
	profiles := memory.NewProfileUpdater(router, cfg.Models.CompactionModel, personas, log)

	// Skills.
	skills := skill.NewLoader(cfg.DataDir, log)
	skillUpdater := skill.NewUpdater(router, skills, sessions, cfg.Models.CompactionModel, log)

	// Tools.
	registry := tool.NewRegistry(log)
	execLimiter := tool.NewRateLimiter(cfg.Tools.ExecRateLimit, cfg.Tools.ExecRateWindow)
	for _, t := range []domain.Tool{
		tool.NewFileReadTool(log),
		tool.NewFileWriteTool(log),
		tool.NewExecTool(cfg.Tools.ExecAllowed, cfg.Tools.ExecTimeout, execLimiter, log),
		tool.NewWebFetchTool(cfg.Tools.FetchMaxBytes, log),
		tool.NewMemoryReadTool(memories, log),
		tool.NewMemoryWriteTool(memories, log),
	} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	// Agent pipeline.
	hooks := usecase.NewHookBus(log)
	runner := usecase.NewRunner(
		usecase.NewPromptBuilder(),
		router,
		compactor,
		registry,
		hooks,
		filepath.Join(cfg.DataDir, "users"),
		usecase.RunnerOptions{
			MaxToolRounds:   cfg.Agent.MaxToolRounds,
			ToolResultLimit: cfg.Agent.ToolResultLimit,
		},
		log,
	)

	feishu := gateway.NewClient(cfg.Feishu, log)
	tasking := usecase.NewTasking(sessions, runner, registry, personas, skills, memories, hooks, feishu, log)
	tasks := queue.New(tasking, queue.Options{
		Dir:         cfg.Queue.Dir,
		Concurrency: cfg.Queue.Concurrency,
		Retries:     cfg.Queue.Retries,
	}, log)

	// Post-reply reflection: update the user profile and skills after each
	// completed exchange. Runs on the queue goroutine, after the reply is out.
	hooks.On(domain.HookAfterAgent, func(ctx context.Context, payload any) (domain.HookResult, error) {
		rctx, ok := payload.(*domain.AgentResultHookContext)
		if !ok {
			return domain.HookResult{}, nil
		}
		profiles.UpdateIfNeeded(ctx, rctx.UserID, rctx.Message, rctx.Result)
		skillUpdater.ReflectAndUpdate(ctx, rctx.UserID, usecase.SessionID(rctx.Message.ChatID, rctx.Message.ThreadRoot()))
		return domain.HookResult{}, nil
	})

	// Maintenance scheduler.
	sched := scheduling.NewScheduler(log)
	sched.RegisterAction(scheduling.ActionSessionReap, func(ctx context.Context) error {
		_, err := sessions.ReapIdle(ctx, cfg.Scheduler.SessionMaxIdle)
		return err
	})
	sched.RegisterAction(scheduling.ActionSkillRefresh, func(context.Context) error {
		skills.Refresh()
		return nil
	})
	if cfg.Scheduler.Enabled {
		for _, t := range cfg.Scheduler.Tasks {
			task := scheduling.Task{
				Name:     t.Name,
				Schedule: t.Schedule,
				Action:   scheduling.ScheduledAction(t.Action),
			}
			if err := sched.AddTask(task); err != nil {
				return err
			}
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	// Resume work interrupted by the previous shutdown.
	if err := tasks.LoadPendingJobs(ctx); err != nil {
		log.Error("restoring persisted jobs failed", "error", err)
	}

	webhook := gateway.NewWebhook(cfg.Feishu, sessions, tasks, hooks, log)
	srv := server.New(cfg.Server, webhook, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("gracebot started", "port", cfg.Server.Port, "data_dir", cfg.DataDir)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	tasks.Wait()
	return nil
}

// newEmbedder builds the OpenAI-compatible embedding provider from config.
func newEmbedder(cfg config.EmbeddingConfig) *embedding.OpenAIProvider {
	opts := []embedding.OpenAIOption{embedding.WithModel(cfg.Model)}
	if cfg.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Endpoint))
	}
	if cfg.Dimensions > 0 {
		opts = append(opts, embedding.WithDimensions(cfg.Dimensions))
	}
	return embedding.NewOpenAIProvider(cfg.APIKey, opts...)
}
