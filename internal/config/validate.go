package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLibrary(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLibrary() error {
	switch c.Library.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Library.DatabasePath) == "" {
			return errors.New("library.database_path must be set when library.backend is sqlite")
		}
	case BackendJellyfin:
		if c.Library.URL == "" {
			return errors.New("library.url must be set when library.backend is jellyfin")
		}
		if c.Library.APIKey == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("library.api_key is required for jellyfin. Set JELLYFIN_API_KEY env var or edit %s (create with 'danmu config init')", defaultPath)
		}
	default:
		return fmt.Errorf("library.backend: unsupported value %q (use %q or %q)", c.Library.Backend, BackendSQLite, BackendJellyfin)
	}
	return nil
}

func (c *Config) validateQueue() error {
	return ensurePositiveMap(map[string]int{
		"queue.debounce_seconds":          c.Queue.DebounceSeconds,
		"queue.pending_add_ttl_minutes":   c.Queue.PendingAddTTLMinutes,
		"queue.download_cooldown_minutes": c.Queue.DownloadCooldownMinutes,
	})
}

func (c *Config) validateMatching() error {
	if c.Matching.SimilarityThreshold <= 0 || c.Matching.SimilarityThreshold > 1 {
		return errors.New("matching.similarity_threshold must be greater than 0 and at most 1")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.MinPayloadBytes < 0 {
		return errors.New("download.min_payload_bytes must be >= 0")
	}
	if c.Download.ASSTextOpacity < 0 || c.Download.ASSTextOpacity > 1 {
		return errors.New("download.ass_text_opacity must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateProviders() error {
	enabled := 0
	for _, name := range c.Providers.Order {
		settings, ok := c.ProviderSettings(name)
		if !ok {
			return fmt.Errorf("providers.order: unknown provider %q", name)
		}
		if settings.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("providers.order must include at least one enabled provider")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
