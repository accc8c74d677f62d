package preflight

import (
	"context"
	"path/filepath"
	"strings"

	"danmu/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Lock directory", filepath.Dir(cfg.Paths.LockPath)),
	}

	switch cfg.Library.Backend {
	case config.BackendJellyfin:
		results = append(results, CheckJellyfin(ctx, cfg.Library.URL, cfg.Library.APIKey))
	default:
		results = append(results, CheckDirectoryAccess("Library database directory", filepath.Dir(cfg.Library.DatabasePath)))
	}

	for _, name := range cfg.Providers.Order {
		settings, ok := cfg.ProviderSettings(name)
		if !ok || !settings.Enabled {
			continue
		}
		results = append(results, CheckProvider(ctx, name, providerEndpoint(settings)))
	}

	if strings.TrimSpace(cfg.Paths.APIBind) != "" {
		results = append(results, CheckAPIBind(cfg.Paths.APIBind))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func providerEndpoint(settings config.Provider) string {
	for _, candidate := range []string{settings.BaseURL, settings.SearchURL, settings.CommentURL} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}
