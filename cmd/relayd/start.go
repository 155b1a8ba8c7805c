package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/api"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/auth"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/chain"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/config"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/lock"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/log"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/storage"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/webhook"
)

const eventBufferSize = 1024

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWithFormat(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("relayd starting", "version", version, "config", *configPath)

	lockPath := lock.PathFor(statePath(cfg), cfg.ConfigDir)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open queue store", "driver", cfg.State.Driver, "path", cfg.State.Path, "error", err)
		return 1
	}
	defer store.Close()
	logger.Info("queue store opened", "driver", cfg.State.Driver, "path", statePath(cfg))

	registry, err := loadPlugins(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to load plugins", "plugins_dir", cfg.PluginsDir, "error", err)
		return 1
	}
	logger.Info("plugin registration complete", "count", registry.Len())

	chains, err := connectChains(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect chains", "error", err)
		return 1
	}

	hub := events.NewHub(eventBufferSize)
	eng := dispatch.New(store, registry, tag.NewManager(), chains, chains, hub, engineOptions(cfg))
	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start dispatch engine", "error", err)
		return 1
	}
	defer eng.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go pruneLoop(ctx, eng, cfg.Service.TerminalRetention, logger)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}
		apiServer := api.New(apiConfig, eng, registry, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if wc := cfg.Webhooks; wc != nil && len(wc.Endpoints) > 0 {
		webhookConfig, err := webhook.FromConfig(wc)
		if err != nil {
			logger.Error("invalid webhook configuration", "error", err)
			return 1
		}
		ingress := webhook.New(webhookConfig, eng, log.WithComponent("webhook"))
		go func() {
			if err := ingress.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook ingress enabled", "listen", wc.Listen, "endpoints", len(wc.Endpoints))
	}

	logger.Info("relayd running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("relayd stopped")
	return 0
}

// statePath is empty for the memory driver.
func statePath(cfg *config.Config) string {
	if cfg.State.Driver == config.DriverMemory {
		return ""
	}
	return cfg.State.Path
}

func openStore(ctx context.Context, cfg *config.Config) (queue.Store, error) {
	if cfg.State.Driver == config.DriverMemory {
		return queue.NewMemory(), nil
	}
	return openSQLiteStore(ctx, cfg)
}

func openSQLiteStore(ctx context.Context, cfg *config.Config) (*queue.SQLite, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, err
	}
	return queue.NewSQLite(db), nil
}

// loadPlugins registers discovered plugins that config lists and enables.
// Discovery order fixes registration order, which breaks claim races.
func loadPlugins(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*plugin.Registry, error) {
	defs, err := plugin.DiscoverMany([]string{cfg.PluginsDir}, discoveryLogger(logger))
	if err != nil {
		return nil, err
	}

	registry := plugin.NewRegistry()
	for _, def := range defs {
		conf, ok := cfg.Plugins[def.Name]
		if !ok || !conf.Enabled {
			logger.Debug("plugin discovered but not enabled", "plugin", def.Name)
			continue
		}

		p := plugin.NewSubprocess(def, conf.Timeout)
		hctx, hcancel := context.WithTimeout(ctx, conf.Timeout)
		err := p.Handshake(hctx)
		hcancel()
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", def.Name, err)
		}
		if err := registry.Add(p); err != nil {
			return nil, err
		}
		logger.Info("plugin registered", "plugin", def.Name, "filter", def.Capabilities.Filter, "process", def.Capabilities.Process)
	}

	for name, conf := range cfg.Plugins {
		if _, ok := registry.Get(name); !ok && conf.Enabled {
			logger.Warn("configured plugin not found", "plugin", name, "plugins_dir", cfg.PluginsDir)
		}
	}
	return registry, nil
}

func discoveryLogger(logger *slog.Logger) func(level, msg string, args ...any) {
	return func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	}
}

func connectChains(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chain.Set, error) {
	adapters := make([]*chain.Adapter, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		keys := make([]chain.Key, 0, len(cc.Keyring.Keys))
		for _, k := range cc.Keyring.Keys {
			keys = append(keys, chain.Key{Name: k.Name, Address: k.Address})
		}

		client := chain.NewHTTPClient(cc.RPCURL, cc.Timeout)
		a, err := chain.New(ctx, chain.Config{
			Name:       cc.Name,
			MinBalance: cc.MinBalance,
			Denom:      cc.Denom,
			Keyring:    cc.Keyring.Name,
			Keys:       keys,
		}, client)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
		logger.Info("chain connected", "chain", cc.Name, "chain_id", a.ChainID(), "revision", a.Revision(), "keys", len(keys))
	}
	return chain.NewSet(adapters...)
}

func engineOptions(cfg *config.Config) dispatch.Options {
	opts := dispatch.Options{
		BatchSize:         cfg.Dispatch.BatchSize,
		CallTimeout:       cfg.Dispatch.CallTimeout,
		MaxConcurrentExec: cfg.Dispatch.MaxConcurrentExec,
		TickInterval:      cfg.Service.TickInterval,
		Retention:         cfg.Service.TerminalRetention,
		PluginBreakers:    make(map[string]dispatch.BreakerConfig),
	}
	for name, conf := range cfg.Plugins {
		if conf.CircuitBreaker == nil {
			continue
		}
		opts.PluginBreakers[name] = dispatch.BreakerConfig{
			Threshold:  conf.CircuitBreaker.Threshold,
			ResetAfter: conf.CircuitBreaker.ResetAfter,
		}
	}
	return opts
}

// pruneLoop removes settled entries older than retention, checking ten
// times per retention window.
func pruneLoop(ctx context.Context, eng *dispatch.Engine, retention time.Duration, logger *slog.Logger) {
	interval := retention / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := eng.Prune(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("prune failed", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("pruned settled operations", "count", n)
			}
		}
	}
}
