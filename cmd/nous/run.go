package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nousworks/nous/internal/audit"
	"github.com/nousworks/nous/internal/config"
	"github.com/nousworks/nous/internal/debounce"
	"github.com/nousworks/nous/internal/errlog"
	"github.com/nousworks/nous/internal/evolve"
	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/internal/llm/providers"
	"github.com/nousworks/nous/internal/memory"
	"github.com/nousworks/nous/internal/observability"
	"github.com/nousworks/nous/internal/orchestrator"
	"github.com/nousworks/nous/internal/queue"
	"github.com/nousworks/nous/internal/safety"
	"github.com/nousworks/nous/internal/tools"
	"github.com/nousworks/nous/internal/window"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the assistant interactively",
		Long: `Run the assistant with a stdin/stdout conversation loop.

The process also starts the improvement queue workers and, when configured,
a Prometheus metrics endpoint. Shutdown on SIGINT/SIGTERM flushes pending
messages and stops the workers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistant(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path (YAML or JSON5)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func resolveSettings(path string) (*config.Settings, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("nous.yaml"); err == nil {
		return config.Load("nous.yaml")
	}
	return config.Default(), nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runAssistant(ctx context.Context, configPath string, debug bool) error {
	settings, err := resolveSettings(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := memory.NewSQLiteStore(settings.MemoryPath())
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer store.Close()

	auditLog := audit.NewLogger(settings.AuditPath(), logger)
	collector := errlog.NewCollector(settings.ErrorLogPath())
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	router := buildRouter(ctx, settings, logger, auditLog, metrics)

	registry := tools.NewRegistry()
	registerBuiltinTools(registry, store, collector)

	assembler := window.NewAssembler(store, logger)
	assembler.AssistantName = settings.AssistantName
	assembler.UserName = settings.UserName

	orch := orchestrator.New(orchestrator.Config{
		Router:    router,
		Registry:  registry,
		Assembler: assembler,
		Store:     store,
		Errors:    collector,
		Audit:     auditLog,
		Metrics:   metrics,
		Logger:    logger,
	})

	guard := safety.NewGuard(settings.RepoDir, settings.TestCommand, auditLog)
	engine := evolve.NewEngine(router, guard, settings.RepoDir, auditLog, logger)
	engine.Push = settings.PushAfter

	q, err := queue.Open(settings.QueuePath(), logger, queue.WithWorkers(settings.Workers))
	if err != nil {
		return fmt.Errorf("failed to open improvement queue: %w", err)
	}
	q.StartWorkers(engine, metrics)
	defer q.StopWorkers()

	if settings.MetricsAddr != "" {
		go serveMetrics(settings.MetricsAddr, logger)
	}

	return interactiveLoop(ctx, settings, orch, logger)
}

func buildRouter(ctx context.Context, settings *config.Settings, logger *slog.Logger, auditLog *audit.Logger, metrics *observability.Metrics) *llm.Router {
	adapters := map[llm.ProviderID]llm.Provider{
		llm.ProviderOpenAI:     providers.NewOpenAI(settings.Providers.OpenAI.APIKey),
		llm.ProviderAnthropic:  providers.NewAnthropic(settings.Providers.Anthropic.APIKey),
		llm.ProviderGoogle:     providers.NewGoogle(ctx, settings.Providers.Google.APIKey),
		llm.ProviderOpenRouter: providers.NewOpenRouter(settings.Providers.OpenRouter.APIKey),
	}

	// The default provider leads the fallback order; the rest keep a
	// stable order behind it.
	order := []llm.ProviderID{llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGoogle, llm.ProviderOpenRouter}
	preferred := llm.ProviderID(settings.DefaultProvider)
	var list []llm.Provider
	if p, ok := adapters[preferred]; ok {
		list = append(list, p)
	}
	for _, id := range order {
		if id != preferred {
			list = append(list, adapters[id])
		}
	}

	return llm.NewRouter(list, logger, llm.WithAudit(auditLog), llm.WithMetrics(metrics))
}

// interactiveLoop reads lines from stdin, debounces bursts, and prints the
// assistant's chunked replies.
func interactiveLoop(ctx context.Context, settings *config.Settings, orch *orchestrator.Orchestrator, logger *slog.Logger) error {
	userID := settings.UserName

	// Per-user serialization lives here, not in the orchestrator: batches
	// flow through one goroutine so replies stay in order.
	batches := make(chan []debounce.Message, 16)
	deb := debounce.NewInbound(settings.DebounceWindow(), func(batch []debounce.Message) {
		select {
		case batches <- batch:
		case <-ctx.Done():
		}
	})
	defer deb.Stop()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			deb.Enqueue(debounce.Message{UserID: userID, Channel: "cli", Text: text})
		}
		deb.FlushAll()
	}()

	fmt.Printf("%s ready. Type a message.\n", settings.AssistantName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-batches:
			text := debounce.JoinTexts(batch)
			result, err := orch.ProcessMessage(ctx, userID, text, "cli")
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("message processing failed", "error", err)
				fmt.Println("Something went wrong. Please try again.")
				continue
			}
			for _, chunk := range result.Chunks {
				fmt.Println(chunk)
			}
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}
