package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aromachat/authsync"
	"github.com/aromachat/authsync/cache"
	rediscache "github.com/aromachat/authsync/cache/redis"
	"github.com/aromachat/authsync/config"
	"github.com/aromachat/authsync/gotrue"
	"github.com/aromachat/authsync/log"
	"github.com/aromachat/authsync/postgrest"
)

// Built by PersistentPreRunE, shared by every subcommand.
var (
	appLogger  log.Logger
	cfg        *config.ClientConfig
	provider   *gotrue.Client
	profiles   *postgrest.Client
	queryCache cache.QueryCache
	manager    *authsync.Manager
)

var rootCmd = &cobra.Command{
	Use:           "aromactl",
	Short:         "aromactl is a CLI for the AromaChat account layer",
	Long:          `A command-line interface for signing in to AromaChat, inspecting the synced session and profile state, and watching auth transitions as they happen.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, parseErr := zerolog.ParseLevel(cfg.LogLevel)
		if parseErr != nil {
			level = zerolog.InfoLevel
		}
		appLogger = log.NewZerologAdapter(level, cfg.LogPretty)
		if parseErr != nil {
			appLogger.Warn(cmd.Context(), "invalid LOG_LEVEL configured, defaulting to info",
				map[string]any{"configured": cfg.LogLevel})
		}

		return buildStack()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildStack assembles the provider client, profile client, cache, and
// manager the subcommands share.
func buildStack() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to resolve home directory: %w", err)
	}
	storage := gotrue.NewFileStorage(filepath.Join(home, ".aromachat", "session.json"))

	provider, err = gotrue.NewClient(gotrue.Config{
		URL:           cfg.ProviderURL,
		Key:           cfg.ProviderKey,
		Storage:       storage,
		Logger:        appLogger.With(map[string]any{"component": "gotrue"}),
		Timeout:       time.Duration(cfg.ProviderTimeoutSec) * time.Second,
		RefreshMargin: time.Duration(cfg.RefreshMarginSec) * time.Second,
		RetryMax:      cfg.RefreshRetryMax,
		RetryBase:     time.Duration(cfg.RefreshRetryBaseMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity provider client: %w", err)
	}

	profiles, err = postgrest.NewClient(postgrest.Config{
		URL: cfg.ProfileURL,
		Key: cfg.ProviderKey,
		Token: func(context.Context) string {
			if s := provider.CurrentSession(); s != nil {
				return s.AccessToken
			}
			return ""
		},
		Logger:  appLogger.With(map[string]any{"component": "postgrest"}),
		Timeout: time.Duration(cfg.ProviderTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create profile store client: %w", err)
	}

	ttl := time.Duration(cfg.CacheTTLMin) * time.Minute
	switch cfg.CacheBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		queryCache = rediscache.NewQueryCache(rdb, "aromachat")
	default:
		queryCache = cache.NewMemory(ttl)
	}

	manager, err = authsync.New(authsync.Options{
		Provider:                    provider,
		Profiles:                    profiles,
		Cache:                       queryCache,
		Logger:                      appLogger,
		CacheTTL:                    ttl,
		RetainProfileCacheOnSignOut: cfg.RetainProfileCacheOnSignOut,
		ProfileRetryMax:             cfg.ProfileRetryMax,
		ProfileRetryBase:            time.Duration(cfg.ProfileRetryBaseMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble sync layer: %w", err)
	}
	return nil
}

func teardown() {
	if manager != nil {
		_ = manager.Close()
	}
	if provider != nil {
		_ = provider.Close()
	}
	if queryCache != nil {
		_ = queryCache.Close()
	}
}

// waitForGate blocks until the gate satisfies the predicate or the timeout
// passes, returning the last snapshot seen either way.
func waitForGate(ctx context.Context, timeout time.Duration, until func(authsync.GateSnapshot) bool) authsync.GateSnapshot {
	changes := make(chan authsync.GateSnapshot, 16)
	sub := manager.OnGateChange(func(g authsync.GateSnapshot) {
		select {
		case changes <- g:
		default:
		}
	})
	defer sub.Unsubscribe()

	snap := manager.Gate()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for !until(snap) {
		select {
		case snap = <-changes:
		case <-deadline.C:
			return snap
		case <-ctx.Done():
			return snap
		}
	}
	return snap
}

// waitForProfile blocks until the profile slot resolves or the timeout
// passes, returning the last snapshot seen either way.
func waitForProfile(ctx context.Context, timeout time.Duration) authsync.ProfileSnapshot {
	changes := make(chan authsync.ProfileSnapshot, 16)
	sub := manager.Profiles().Subscribe(func(p authsync.ProfileSnapshot) {
		select {
		case changes <- p:
		default:
		}
	})
	defer sub.Unsubscribe()

	snap := manager.Profiles().Snapshot()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for snap.Loading {
		select {
		case snap = <-changes:
		case <-deadline.C:
			return snap
		case <-ctx.Done():
			return snap
		}
	}
	return snap
}

// settled reports a gate snapshot that is not going to advance on its own:
// signed out, fully authenticated, or session-only with a profile failure.
func settled(g authsync.GateSnapshot) bool {
	switch g.State {
	case authsync.StateSignedOut, authsync.StateAuthenticated:
		return true
	case authsync.StateSessionOnly:
		return g.ProfileErr != nil || !manager.Profiles().Snapshot().Loading
	default:
		return false
	}
}
