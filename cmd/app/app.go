package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/universal-tool-calling-protocol/go-utcp"

	agent "github.com/Protocol-Lattice/chat-agent"
	"github.com/Protocol-Lattice/chat-agent/internal/config"
	"github.com/Protocol-Lattice/chat-agent/internal/logging"
	"github.com/Protocol-Lattice/chat-agent/internal/metrics"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation"
	"github.com/Protocol-Lattice/chat-agent/pkg/conversation/store"
	"github.com/Protocol-Lattice/chat-agent/pkg/models"
	"github.com/Protocol-Lattice/chat-agent/pkg/tools"
)

const lockPrefix = "chat-agent:"

// app is the wired runtime shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	agent   *agent.Agent
	metrics *metrics.Recorder
	closers []func() error
}

// Close releases everything opened by loadApp in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Agent.DefaultModel = model
	}
	return cfg, nil
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.Open(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(), closers: []func() error{closeLog}}
	if err := a.wire(cmd.Context()); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	conversations, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	registry, err := a.loadTools(ctx)
	if err != nil {
		return err
	}
	router := a.loadProviders(ctx)

	ag, err := agent.New(agent.Options{
		Store:           conversations,
		Registry:        registry,
		Router:          router,
		Logger:          a.logger,
		Metrics:         a.metrics,
		ToolConcurrency: a.cfg.Agent.ToolConcurrency,
	})
	if err != nil {
		return err
	}
	a.agent = ag
	return nil
}

func (a *app) openStore(ctx context.Context) (*conversation.Store, error) {
	backend, err := store.Open(ctx, a.cfg.StorageDSN())
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	opts := []conversation.Option{
		conversation.WithCache(a.cfg.Storage.CacheSize, a.cfg.Storage.CacheTTL),
		conversation.WithLogger(a.logger),
	}
	if url := a.cfg.Storage.LockURL; url != "" {
		redisOpts, err := redis.ParseURL(url)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("parse lock url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		a.closers = append(a.closers, client.Close)
		opts = append(opts, conversation.WithLocker(store.NewRedisLocker(client, lockPrefix)))
	}
	s := conversation.NewStore(backend, opts...)
	a.closers = append(a.closers, s.Close)
	a.logger.Debug("conversation store ready", "driver", driverName(a.cfg.StorageDSN()))
	return s, nil
}

func driverName(dsn string) string {
	scheme, _, ok := strings.Cut(dsn, ":")
	if !ok {
		return "sqlite"
	}
	return scheme
}

func (a *app) loadTools(ctx context.Context) (*tools.Registry, error) {
	registry := tools.NewDefaultRegistry(tools.BuiltinOptions{
		EnableFileOperations: a.cfg.Tools.EnableFileOperations,
		FileRoot:             a.cfg.Tools.FileRoot,
		MaxReadBytes:         a.cfg.Tools.MaxReadBytes,
		EnableWebSearch:      a.cfg.Tools.EnableWebSearch,
	})

	for _, srv := range a.cfg.Tools.MCPServers {
		c, err := tools.ConnectMCP(ctx, tools.MCPServer{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     envList(srv.Env),
		}, a.cfg.Agent.Name, version)
		if err != nil {
			a.logger.Warn("mcp server unavailable", "server", srv.Name, "error", err)
			continue
		}
		a.closers = append(a.closers, c.Close)
		n, err := tools.LoadMCPTools(ctx, c, registry, tools.WithMCPPrefix(srv.Prefix))
		if err != nil {
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		a.logger.Info("mcp tools loaded", "server", srv.Name, "count", n)
	}

	if path := a.cfg.Tools.UTCPProviders; path != "" {
		client, err := utcp.NewUTCPClient(ctx, &utcp.UtcpClientConfig{ProvidersFilePath: path}, nil, nil)
		if err != nil {
			a.logger.Warn("utcp providers unavailable", "path", path, "error", err)
		} else {
			n, err := tools.LoadUTCPTools(client, registry, "", 0)
			if err != nil {
				return nil, err
			}
			a.logger.Info("utcp tools loaded", "count", n)
		}
	}
	a.logger.Debug("tool registry ready", "tools", registry.Names())
	return registry, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// loadProviders registers every provider that has credentials. A provider
// that fails to initialise is logged and skipped so the others stay usable.
func (a *app) loadProviders(ctx context.Context) *models.Router {
	router := models.NewRouter(a.cfg.Agent.DefaultModel, a.cfg.Agent.Fallback...)
	settings := providerSettings(a.cfg.Agent)
	for _, name := range a.cfg.ConfiguredProviders() {
		pc := a.cfg.Provider(name)
		p, err := models.NewProvider(ctx, name, models.ProviderConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
		}, settings)
		if err != nil {
			a.logger.Warn("provider unavailable", "provider", name, "error", err)
			continue
		}
		router.Register(p)
	}
	if len(router.Providers()) == 0 {
		a.logger.Warn("no model provider configured; set OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY or OLLAMA_HOST")
	}
	return router
}

// providerSettings overlays the configured generation parameters on the
// provider defaults.
func providerSettings(cfg config.AgentConfig) models.Settings {
	s := models.DefaultSettings()
	if cfg.Name != "" {
		s.AgentName = cfg.Name
	}
	if cfg.MaxTokens > 0 {
		s.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature >= 0 {
		s.Temperature = cfg.Temperature
	}
	s.Timeout = cfg.RequestTimeout
	return s
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(*app) error) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}()
	return fn(a)
}
