package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/nexus-core/internal/artifacts"
	"github.com/haasonsaas/nexus-core/internal/auth"
	"github.com/haasonsaas/nexus-core/internal/config"
	"github.com/haasonsaas/nexus-core/internal/gateway"
	"github.com/haasonsaas/nexus-core/internal/ircclient"
	"github.com/haasonsaas/nexus-core/internal/memory"
	"github.com/haasonsaas/nexus-core/internal/memory/backend"
	"github.com/haasonsaas/nexus-core/internal/memory/backend/pgvector"
	"github.com/haasonsaas/nexus-core/internal/memory/embeddings"
	"github.com/haasonsaas/nexus-core/internal/memory/embeddings/openai"
	"github.com/haasonsaas/nexus-core/internal/memory/messagesync"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/provider/responses"
	"github.com/haasonsaas/nexus-core/internal/quota"
	"github.com/haasonsaas/nexus-core/internal/reminders"
	"github.com/haasonsaas/nexus-core/internal/shell"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/internal/tools/analyzeimage"
	"github.com/haasonsaas/nexus-core/internal/tools/bugreport"
	"github.com/haasonsaas/nexus-core/internal/tools/chathistory"
	"github.com/haasonsaas/nexus-core/internal/tools/claudecode"
	"github.com/haasonsaas/nexus-core/internal/tools/control"
	"github.com/haasonsaas/nexus-core/internal/tools/fetch"
	"github.com/haasonsaas/nexus-core/internal/tools/fluxcreate"
	"github.com/haasonsaas/nexus-core/internal/tools/fluxedit"
	"github.com/haasonsaas/nexus-core/internal/tools/geminiimage"
	"github.com/haasonsaas/nexus-core/internal/tools/gptimage"
	"github.com/haasonsaas/nexus-core/internal/tools/images"
	"github.com/haasonsaas/nexus-core/internal/tools/irccommand"
	"github.com/haasonsaas/nexus-core/internal/tools/kb"
	"github.com/haasonsaas/nexus-core/internal/tools/paste"
	remindertools "github.com/haasonsaas/nexus-core/internal/tools/reminders"
	"github.com/haasonsaas/nexus-core/internal/tools/sandbox"
	"github.com/haasonsaas/nexus-core/internal/tools/shellexec"
	"github.com/haasonsaas/nexus-core/internal/tools/userrules"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// app bundles every long-lived subsystem runServe starts and stops, in the
// order commands_serve.go's shutdown sequence unwinds them.
type app struct {
	cfg       *config.Config
	stores    storage.StoreSet
	rules     *storage.RulesStore
	kbBackend backend.Backend
	embedder  embeddings.Provider
	registry  *orchestrator.ToolRegistry
	msgSync   *messagesync.Job
	scheduler *reminders.Scheduler
	gateway   *gateway.Server
}

// buildApp constructs every dependency runServe needs and wires the tool
// registry, following the teacher's handlers_serve.go: one function builds
// the whole object graph before anything is started.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	stores, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rules, err := storage.NewRulesStore(cfg.Storage.RulesPath)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("open rules store: %w", err)
	}

	var kbBackend backend.Backend
	var embedder embeddings.Provider
	var kbManager *memory.Manager
	if cfg.KB.VectorDSN != "" {
		kbBackend, err = pgvector.New(pgvector.Config{DSN: cfg.KB.VectorDSN, Dimension: 1536, RunMigrations: true})
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("init knowledge base backend: %w", err)
		}
		embedder, err = openai.New(openai.Config{APIKey: cfg.Provider.OpenAIAPIKey, Model: cfg.KB.EmbeddingModel})
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("init embedding provider: %w", err)
		}
		kbManager = memory.NewManagerWithBackend(kbBackend, embedder)
	}

	artifactStore, err := artifacts.NewLocalStore("data/artifacts")
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}
	artifactRepo, err := artifacts.NewPersistentRepository(artifactStore, "data/artifacts/metadata.json", logger)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("init artifact repository: %w", err)
	}

	ircCallback := ircclient.New(cfg.Server.IRCCallbackURL)

	registry := orchestrator.NewToolRegistry()
	registerTools(ctx, registry, cfg, logger, stores, rules, kbManager, kbBackend, embedder, artifactRepo, ircCallback)
	registry.Freeze()

	imageQuota := quota.NewSlidingWindow(cfg.RateLimit.ImageQuotaPerHour, time.Hour)
	deepQuota := quota.NewSlidingWindow(cfg.RateLimit.DeepModeQuotaPerDay, 24*time.Hour)

	provider := responses.New(cfg.Provider.OpenAIAPIKey, cfg.Models.Model)
	costTable := models.DefaultCostTable
	if len(cfg.Cost.Models) > 0 {
		costTable = convertCostTable(cfg.Cost.Models)
	}

	loop := orchestrator.NewLoop(
		provider, registry, stores.Usage, costTable, imageQuota, deepQuota,
		orchestrator.LoopParams{
			Model:                 cfg.Models.Model,
			NormalReasoningEffort: cfg.Models.NormalReasoningEffort,
			DeepReasoningEffort:   cfg.Models.DeepReasoningEffort,
			NormalMaxTokens:       cfg.Models.NormalMaxTokens,
			DeepMaxTokens:         cfg.Models.DeepMaxTokens,
			NormalTimeout:         cfg.Models.NormalTimeout,
			DeepTimeout:           cfg.Models.DeepTimeout,
			NormalMaxIterations:   cfg.Models.NormalMaxIterations,
			DeepMaxIterations:     cfg.Models.DeepMaxIterations,
			PromptCacheRetention:  cfg.Models.PromptCacheRetention,
		},
		logger, imageToolNames(),
	)

	var msgSync *messagesync.Job
	if kbBackend != nil {
		msgSync = messagesync.New(stores.Messages, kbBackend, embedder, messagesync.Config{}, logger)
	}

	scheduler := reminders.New(stores.Reminders, ircCallback, reminders.Config{
		StartupGrace: cfg.Reminders.StartupGrace,
		PollInterval: cfg.Reminders.PollInterval,
	}, logger)

	authSvc := auth.NewService(auth.Config{JWTSecret: cfg.Server.CallbackAuthToken})

	commands := gateway.NewCommandRegistry()
	registerCommands(commands, registry)

	gw := gateway.New(gateway.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Loop:      loop,
		Auth:      authSvc,
		Rules:     rules,
		Reminders: stores.Reminders,
		Registry:  registry,
		Commands:  commands,
		Logger:    logger,
	})

	return &app{
		cfg:       cfg,
		stores:    stores,
		rules:     rules,
		kbBackend: kbBackend,
		embedder:  embedder,
		registry:  registry,
		msgSync:   msgSync,
		scheduler: scheduler,
		gateway:   gw,
	}, nil
}

func openStores(cfg *config.Config) (storage.StoreSet, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.NewPostgresStores(cfg.Storage.DSN, nil)
	default:
		return storage.NewSQLiteStores(cfg.Storage.DSN)
	}
}

func convertCostTable(cost map[string]config.ModelCost) models.CostTable {
	table := make(models.CostTable, len(cost))
	for model, c := range cost {
		table[model] = models.ModelCost{
			InputPerMillion:  c.InputPerMillion,
			CachedPerMillion: c.CachedPerMillion,
			OutputPerMillion: c.OutputPerMillion,
			WebSearchPerCall: c.WebSearchPerCall,
		}
	}
	return table
}

// imageToolNames lists the tool names the deep-mode image quota gates,
// matching spec.md §4.1's "image generation/edit tools share a per-hour
// quota independent of the reasoning loop's own limits."
func imageToolNames() []string {
	return []string{"flux_create", "flux_edit", "gpt_image", "gemini_image"}
}

// registerTools builds and registers every tool in internal/tools against
// the configured dependencies, skipping any whose prerequisite credentials
// or subsystems are absent — mirroring the teacher's conditional tool
// registration in handlers_serve.go.
func registerTools(
	ctx context.Context,
	registry *orchestrator.ToolRegistry,
	cfg *config.Config,
	logger *slog.Logger,
	stores storage.StoreSet,
	rules *storage.RulesStore,
	kbManager *memory.Manager,
	kbBackend backend.Backend,
	embedder embeddings.Provider,
	artifactRepo artifacts.Repository,
	ircCallback *ircclient.Client,
) {
	baseURL := cfg.Server.IRCCallbackURL

	registry.Register(&control.NullResponseTool{})
	registry.Register(&control.ReportStatusTool{})
	registry.Register(&userrules.Tool{Store: rules})
	registry.Register(&bugreport.Tool{Store: stores.Bugs})
	registry.Register(&paste.Tool{Repo: artifactRepo, BaseURL: baseURL})
	registry.Register(&irccommand.Tool{IRC: ircCallback})
	registry.Register(&shellexec.Tool{Registry: shell.NewProcessRegistry(logger)})

	fetchTool := fetch.New(fetch.Config{})
	registry.Register(fetchTool)

	registry.Register(&remindertools.SetTool{Store: stores.Reminders})
	registry.Register(&remindertools.CancelTool{Store: stores.Reminders})
	registry.Register(&remindertools.ListTool{Store: stores.Reminders})

	if kbManager != nil {
		registry.Register(&kb.LearnTool{Manager: kbManager, Fetcher: fetchTool})
		registry.Register(&kb.SearchTool{Manager: kbManager})
		registry.Register(&kb.ListTool{Manager: kbManager})
		registry.Register(&kb.ForgetTool{Manager: kbManager})
		registry.Register(&chathistory.Tool{
			Messages: stores.Messages,
			Backend:  kbBackend,
			Embedder: embedder,
		})
	}

	if cfg.Provider.AnthropicAPIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.Provider.AnthropicAPIKey)}
		anthropicClient := anthropic.NewClient(opts...)
		registry.Register(&claudecode.Tool{
			Client:  anthropicClient.Messages,
			Model:   "claude-sonnet-4-20250514",
			Repo:    artifactRepo,
			BaseURL: baseURL,
		})
	}

	if pyTool, err := sandbox.NewPythonExecTool(artifactRepo, baseURL); err == nil {
		registry.Register(pyTool)
	} else {
		logger.Warn("python_exec unavailable", "error", err)
	}

	uploader := &images.Uploader{Repo: artifactRepo, BaseURL: baseURL}
	downloader := images.NewDownloader(0)

	if cfg.Provider.BFLAPIKey != "" {
		bfl := images.NewBFLClient(cfg.Provider.BFLAPIKey)
		registry.Register(&fluxcreate.Tool{BFL: bfl, Uploader: uploader})
		registry.Register(&fluxedit.Tool{BFL: bfl, Uploader: uploader, Downloader: downloader})
	}
	if cfg.Provider.OpenAIAPIKey != "" {
		registry.Register(gptimage.New(cfg.Provider.OpenAIAPIKey, uploader, downloader))
	}
	if apiKey := cfg.Provider.GeminiAPIKey; apiKey != "" {
		if t, err := geminiimage.New(ctx, apiKey, uploader, downloader); err == nil {
			registry.Register(t)
		} else {
			logger.Warn("gemini_image unavailable", "error", err)
		}
	}
	registry.Register(&analyzeimage.Tool{Downloader: downloader, Logger: logger})
}
