package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLibrary(); err != nil {
		return err
	}
	c.normalizeProviders()
	c.normalizeDownload()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LockPath) == "" {
		c.Paths.LockPath = defaultLockPath
	}
	if c.Paths.LockPath, err = expandPath(c.Paths.LockPath); err != nil {
		return fmt.Errorf("paths.lock_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DANMU_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeLibrary() error {
	c.Library.Backend = strings.ToLower(strings.TrimSpace(c.Library.Backend))
	if c.Library.Backend == "" {
		c.Library.Backend = BackendSQLite
	}
	if strings.TrimSpace(c.Library.DatabasePath) == "" {
		c.Library.DatabasePath = defaultDatabasePath
	}
	var err error
	if c.Library.DatabasePath, err = expandPath(c.Library.DatabasePath); err != nil {
		return fmt.Errorf("library.database_path: %w", err)
	}
	c.Library.URL = strings.TrimRight(strings.TrimSpace(c.Library.URL), "/")
	if c.Library.APIKey == "" {
		if value, ok := os.LookupEnv("JELLYFIN_API_KEY"); ok {
			c.Library.APIKey = value
		}
	}
	c.Library.APIKey = strings.TrimSpace(c.Library.APIKey)
	c.Library.FetcherName = strings.TrimSpace(c.Library.FetcherName)
	if c.Library.FetcherName == "" {
		c.Library.FetcherName = defaultFetcherName
	}
	c.Library.DisabledLibraries = dedupeStrings(c.Library.DisabledLibraries, false)
	if c.Library.RequestTimeout <= 0 {
		c.Library.RequestTimeout = defaultLibraryRequestTimeout
	}
	return nil
}

func (c *Config) normalizeProviders() {
	c.Providers.Order = dedupeStrings(c.Providers.Order, true)
	if len(c.Providers.Order) == 0 {
		c.Providers.Order = []string{ProviderTencent, ProviderIqiyi}
	}
	normalizeProvider(&c.Providers.Tencent, defaultTencentBaseURL, "", "", defaultTencentCommentURL)
	normalizeProvider(&c.Providers.Iqiyi, defaultIqiyiBaseURL, defaultIqiyiSearchURL, defaultIqiyiPageURL, defaultIqiyiCommentURL)
}

func normalizeProvider(p *Provider, baseURL, searchURL, pageURL, commentURL string) {
	p.BaseURL = trimURL(p.BaseURL, baseURL)
	p.SearchURL = trimURL(p.SearchURL, searchURL)
	p.PageURL = trimURL(p.PageURL, pageURL)
	p.CommentURL = trimURL(p.CommentURL, commentURL)
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = defaultProviderRequestTimeout
	}
}

func trimURL(value, fallback string) string {
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return fallback
	}
	return value
}

func (c *Config) normalizeDownload() {
	c.Download.ASSFont = strings.TrimSpace(c.Download.ASSFont)
	if c.Download.ASSFont == "" {
		c.Download.ASSFont = defaultASSFont
	}
	if c.Download.ASSFontSize <= 0 {
		c.Download.ASSFontSize = defaultASSFontSize
	}
	if c.Download.ASSLineCount <= 0 {
		c.Download.ASSLineCount = defaultASSLineCount
	}
	if c.Download.ASSSpeed <= 0 {
		c.Download.ASSSpeed = defaultASSSpeed
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func dedupeStrings(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if lower {
			normalized = strings.ToLower(normalized)
		}
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
