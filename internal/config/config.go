package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file locations and the API bind address.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	LockPath string `toml:"lock_path"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Library selects and configures the media library store.
type Library struct {
	// Backend is "sqlite" (local catalog) or "jellyfin" (remote server).
	Backend      string `toml:"backend"`
	DatabasePath string `toml:"database_path"`
	URL          string `toml:"url"`
	APIKey       string `toml:"api_key"`
	// FetcherName is matched against a Jellyfin library's disabled subtitle fetchers.
	FetcherName       string   `toml:"fetcher_name"`
	DisabledLibraries []string `toml:"disabled_libraries"`
	RequestTimeout    int      `toml:"request_timeout"`
}

// Queue contains the event queue and cache windows.
type Queue struct {
	DebounceSeconds         int `toml:"debounce_seconds"`
	PendingAddTTLMinutes    int `toml:"pending_add_ttl_minutes"`
	DownloadCooldownMinutes int `toml:"download_cooldown_minutes"`
}

// Matching tunes candidate acceptance.
type Matching struct {
	SimilarityThreshold    float64 `toml:"similarity_threshold"`
	EnableEpisodeCountSame bool    `toml:"enable_episode_count_same"`
}

// Download controls payload acceptance and artifact conversion.
type Download struct {
	MinPayloadBytes int     `toml:"min_payload_bytes"`
	ToASS           bool    `toml:"to_ass"`
	ASSFont         string  `toml:"ass_font"`
	ASSFontSize     int     `toml:"ass_font_size"`
	ASSTextOpacity  float64 `toml:"ass_text_opacity"`
	ASSLineCount    int     `toml:"ass_line_count"`
	ASSSpeed        int     `toml:"ass_speed"`
}

// Provider holds the settings shared by every video-site integration.
type Provider struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	SearchURL      string `toml:"search_url"`
	PageURL        string `toml:"page_url"`
	CommentURL     string `toml:"comment_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Providers lists the integrations in priority order.
type Providers struct {
	Order   []string `toml:"order"`
	Tencent Provider `toml:"tencent"`
	Iqiyi   Provider `toml:"iqiyi"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Downloads      bool   `toml:"downloads"`
	Throttling     bool   `toml:"throttling"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for danmu.
//
// Configuration sections by subsystem:
//   - Paths: log directory, daemon lock and API bind address
//   - Library: sqlite catalog or Jellyfin server
//   - Queue: debounce and cache windows
//   - Matching: similarity threshold and strict episode counts
//   - Download: payload floor and ASS conversion
//   - Providers: priority order and per-site settings
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Library       Library       `toml:"library"`
	Queue         Queue         `toml:"queue"`
	Matching      Matching      `toml:"matching"`
	Download      Download      `toml:"download"`
	Providers     Providers     `toml:"providers"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("danmu.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, filepath.Dir(c.Paths.LockPath)}
	if c.Library.Backend == BackendSQLite {
		dirs = append(dirs, filepath.Dir(c.Library.DatabasePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DebounceDelay returns the trailing debounce window of the event queue.
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.Queue.DebounceSeconds) * time.Second
}

// PendingAddTTL returns how long an Add waits for its Update.
func (c *Config) PendingAddTTL() time.Duration {
	return time.Duration(c.Queue.PendingAddTTLMinutes) * time.Minute
}

// DownloadCooldown returns the dedup window for repeated downloads.
func (c *Config) DownloadCooldown() time.Duration {
	return time.Duration(c.Queue.DownloadCooldownMinutes) * time.Minute
}

// ProviderSettings returns the settings block for a provider name.
func (c *Config) ProviderSettings(name string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderTencent:
		return c.Providers.Tencent, true
	case ProviderIqiyi:
		return c.Providers.Iqiyi, true
	default:
		return Provider{}, false
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
