package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/config"
	"github.com/quailyquaily/peerchat/internal/names"
	"github.com/quailyquaily/peerchat/internal/redisnet"
	"github.com/quailyquaily/peerchat/peerchat"
)

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q (want debug|info|warn|error)", raw)
	}
}

func resolveLogLevel(cmd *cobra.Command) (slog.Level, error) {
	raw, _ := cmd.Flags().GetString("log-level")
	return parseLogLevel(raw)
}

// loggerFromConfig honours log_level from the config file and environment;
// the --log-level flag has already been folded in as an override.
func loggerFromConfig(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}

// env is everything a command needs, resolved from flags layered over the
// config file and environment.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    *peerchat.Service
}

func envFromCmd(cmd *cobra.Command) (*env, error) {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := loggerFromConfig(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		svc:    peerchat.NewService(peerchat.NewFileStore(cfg.Dir)),
	}, nil
}

func configFromCmd(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	dir, _ := flags.GetString("dir")
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = defaultPeerchatDir()
	}
	dir = expandHomePath(dir)
	path, _ := flags.GetString("config")

	overrides := map[string]any{}
	if flags.Changed("dir") {
		overrides["dir"] = dir
	}
	for flag, key := range map[string]string{
		"log-level": "log_level",
		"as":        "account",
		"backend":   "network.backend",
		"redis-url": "network.redis_url",
		"names-url": "names.url",
	} {
		if flags.Changed(flag) {
			value, _ := flags.GetString(flag)
			overrides[key] = value
		}
	}

	cfg, err := config.Load(config.LoadOptions{Path: expandHomePath(path), Dir: dir, Overrides: overrides})
	if err != nil {
		return nil, err
	}
	cfg.Dir = expandHomePath(cfg.Dir)
	return cfg, nil
}

func (e *env) classifier() peerchat.Classifier {
	return peerchat.NewClassifier(e.cfg.Names.Suffixes)
}

// selfAddress is --as when given, otherwise the local identity, created on
// first use.
func (e *env) selfAddress(ctx context.Context) (string, error) {
	if e.cfg.Account != "" {
		if !peerchat.IsLiteralAddress(e.cfg.Account) {
			return "", fmt.Errorf("--as %q is not a literal address", e.cfg.Account)
		}
		return peerchat.NormalizeAddress(e.cfg.Account), nil
	}
	identity, _, err := e.svc.EnsureIdentity(ctx, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return identity.Address, nil
}

// networkClient opens the configured backend as self and makes sure self is
// registered on it. The returned close func is never nil.
func (e *env) networkClient(ctx context.Context) (peerchat.NetworkClient, func(), error) {
	self, err := e.selfAddress(ctx)
	if err != nil {
		return nil, func() {}, err
	}
	switch e.cfg.Network.Backend {
	case config.BackendRedis:
		client, err := redisnet.Dial(ctx, e.cfg.Network.RedisURL, self, redisnet.ClientOptions{Logger: e.logger})
		if err != nil {
			return nil, func() {}, err
		}
		if err := client.Register(ctx, self); err != nil {
			_ = client.Close()
			return nil, func() {}, err
		}
		return client, func() { _ = client.Close() }, nil
	default:
		if _, err := e.svc.RegisterAccount(ctx, self, time.Now().UTC()); err != nil {
			return nil, func() {}, err
		}
		client, err := peerchat.NewLocalNetwork(e.svc.Store(), self, peerchat.LocalNetworkOptions{
			PollInterval: e.cfg.Network.PollInterval,
			Logger:       e.logger,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return client, func() {}, nil
	}
}

// nameService consults the local name book first and then the remote
// directory when one is configured.
func (e *env) nameService() (peerchat.NameService, error) {
	chain := names.Chain{names.NewBook(e.svc.Store())}
	if e.cfg.Names.URL != "" {
		client, err := names.NewClient(e.cfg.Names.URL, names.ClientOptions{
			RatePerSecond: e.cfg.Names.RatePerSecond,
			Burst:         e.cfg.Names.Burst,
			Timeout:       e.cfg.Names.Timeout,
			Logger:        e.logger,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, client)
	}
	return chain, nil
}

func defaultPeerchatDir() string {
	if v := strings.TrimSpace(os.Getenv("PEERCHAT_DIR")); v != "" {
		return expandHomePath(v)
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".peerchat"
	}
	return filepath.Join(home, ".peerchat")
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return path
}
