package testsupport

import (
	"path/filepath"
	"testing"

	"danmu/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Providers point at unroutable URLs so tests never reach real sites.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockPath = filepath.Join(base, "danmud.lock")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Library.DatabasePath = filepath.Join(base, "library.db")
	cfgVal.Queue.DebounceSeconds = 1
	cfgVal.Providers.Tencent.BaseURL = "http://127.0.0.1:1"
	cfgVal.Providers.Tencent.CommentURL = "http://127.0.0.1:1"
	cfgVal.Providers.Iqiyi.BaseURL = "http://127.0.0.1:1"
	cfgVal.Providers.Iqiyi.SearchURL = "http://127.0.0.1:1"
	cfgVal.Providers.Iqiyi.PageURL = "http://127.0.0.1:1"
	cfgVal.Providers.Iqiyi.CommentURL = "http://127.0.0.1:1"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// BaseDir returns the temp directory backing cfg's paths.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LockPath)
}

// WithMinPayloadBytes overrides the payload size floor.
func WithMinPayloadBytes(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Download.MinPayloadBytes = n
	}
}

// WithEpisodeCountSame enables strict episode-count matching.
func WithEpisodeCountSame() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Matching.EnableEpisodeCountSame = true
	}
}

// WithASS enables ASS conversion.
func WithASS() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Download.ToASS = true
	}
}

// WithAPIToken sets the API bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithDisabledLibraries marks libraries as excluded.
func WithDisabledLibraries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Library.DisabledLibraries = names
	}
}
