package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"danmu/internal/config"
	"danmu/internal/daemon"
	"danmu/internal/library"
	"danmu/internal/library/jellyfin"
	"danmu/internal/library/sqlite"
	"danmu/internal/logging"
	"danmu/internal/notifications"
	"danmu/internal/preflight"
	"danmu/internal/provider"
	"danmu/internal/provider/iqiyi"
	"danmu/internal/provider/tencent"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the danmu daemon runtime loop and blocks until the context is
// cancelled or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("danmud-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update danmud.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "danmud.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := OpenStore(cfg)
	if err != nil {
		logger.Error("open library store", logging.Error(err))
		return err
	}

	registry, err := BuildProviders(cfg, logger)
	if err != nil {
		if closer, ok := store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return err
	}
	logConfigSnapshot(logger, cfg, registry)
	logPreflight(signalCtx, logger, cfg)

	d, err := daemon.New(cfg, daemon.Dependencies{
		Store:     store,
		Providers: registry,
		Notifier:  notifications.NewService(cfg),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that no other danmud holds the lock and the API address is free"),
			logging.String(logging.FieldImpact, "no notifications will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("danmu daemon shutting down")
	return nil
}

// OpenStore opens the library backend selected by [library] backend.
func OpenStore(cfg *config.Config) (library.Store, error) {
	switch cfg.Library.Backend {
	case config.BackendJellyfin:
		store, err := jellyfin.NewConfiguredStore(cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendSQLite, "":
		store, err := sqlite.Open(cfg.Library.DatabasePath, cfg.Library.DisabledLibraries)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("library.backend: unsupported value %q", cfg.Library.Backend)
	}
}

// BuildProviders constructs the enabled providers in configured priority
// order.
func BuildProviders(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	var providers []provider.Provider
	for _, name := range cfg.Providers.Order {
		settings, ok := cfg.ProviderSettings(name)
		if !ok {
			return nil, fmt.Errorf("providers.order: unknown provider %q", name)
		}
		if !settings.Enabled {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case config.ProviderTencent:
			providers = append(providers, tencent.New(settings, tencent.WithLogger(logger)))
		case config.ProviderIqiyi:
			providers = append(providers, iqiyi.New(settings, iqiyi.WithLogger(logger)))
		}
	}
	return provider.NewRegistry(providers...)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, registry *provider.Registry) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("library_backend", cfg.Library.Backend),
		logging.String("providers", strings.Join(registry.Keys(), ",")),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Paths.APIToken) != ""),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("ass_enabled", cfg.Download.ToASS),
		logging.Duration("debounce", cfg.DebounceDelay()),
	)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed {
			logger.Debug("preflight check passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "acquisition through this dependency may fail"),
			logging.String(logging.FieldErrorHint, "run `danmu preflight` for details"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "danmud.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
