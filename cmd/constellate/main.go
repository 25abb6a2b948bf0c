package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/constellate-io/constellate/internal/engine"
	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/internal/logging"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/internal/scheduler"
	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "constellate:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// stdout carries the MCP transport; all logging goes to stderr.
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	probeReg := probes.NewRegistry()
	if err := probes.RegisterBuiltins(probeReg, probes.HTTPConfig{}); err != nil {
		return fmt.Errorf("register builtin probes: %w", err)
	}
	connectMCPServers(ctx, cfg, probeReg, logger)

	client, err := newLLMClient(cfg)
	if err != nil {
		return err
	}

	runner := engine.NewRunner(st, st, engine.NewStoreRegistry(st), probeReg, client, logger)

	if cfg.Scheduler {
		sched := scheduler.NewScheduler(st, runner, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	srv := mcp.NewConstellateServer(mcp.ConstellateServerDeps{
		Runner: runner,
		Store:  st,
		Probes: probeReg,
		Logger: logger,
	})

	logger.Info("constellate server starting",
		slog.String("db_path", cfg.DBPath),
		slog.String("llm_provider", cfg.LLMProvider),
		slog.Int("probes", probeReg.Count()),
	)
	return srv.Serve(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}

func newLLMClient(cfg Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "", "anthropic":
		return llm.NewAnthropicClient(func(o *llm.AnthropicOptions) {
			if cfg.LLMModel != "" {
				o.Model = anthropic.Model(cfg.LLMModel)
			}
		}), nil
	case "openai":
		return llm.NewOpenAIClient(func(o *llm.OpenAIOptions) {
			if cfg.LLMModel != "" {
				o.Model = cfg.LLMModel
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// connectMCPServers launches the configured external MCP servers and
// registers their tools as probes. Failures are logged, not fatal: a run
// referencing a missing probe fails at validation instead.
func connectMCPServers(ctx context.Context, cfg Config, reg *probes.Registry, logger *slog.Logger) {
	for name, sc := range cfg.MCPServers {
		c, err := mcpclient.NewStdioMCPClient(sc.Command, sc.Env, sc.Args...)
		if err != nil {
			logger.Error("mcp server launch failed",
				slog.String("server", name), slog.String("error", err.Error()))
			continue
		}

		initReq := mcptypes.InitializeRequest{}
		initReq.Params.ProtocolVersion = mcptypes.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = mcptypes.Implementation{Name: "constellate", Version: "1.0.0"}
		if _, err := c.Initialize(ctx, initReq); err != nil {
			logger.Error("mcp server initialize failed",
				slog.String("server", name), slog.String("error", err.Error()))
			_ = c.Close()
			continue
		}

		n, err := probes.RegisterMCPProbes(ctx, reg, name, c)
		if err != nil {
			logger.Error("mcp probe registration failed",
				slog.String("server", name), slog.String("error", err.Error()))
			_ = c.Close()
			continue
		}
		logger.Info("mcp server connected",
			slog.String("server", name), slog.Int("tools", n))
	}
}
