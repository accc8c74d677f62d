package daemonrun

import (
	"path/filepath"
	"testing"

	"danmu/internal/config"
	"danmu/internal/provider/iqiyi"
	"danmu/internal/provider/tencent"
)

func TestBuildProvidersFollowsOrderAndEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Order = []string{config.ProviderIqiyi, config.ProviderTencent}

	reg, err := BuildProviders(&cfg, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	keys := reg.Keys()
	if len(keys) != 2 || keys[0] != iqiyi.Key || keys[1] != tencent.Key {
		t.Fatalf("unexpected provider order %v", keys)
	}

	cfg.Providers.Iqiyi.Enabled = false
	reg, err = BuildProviders(&cfg, nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if keys := reg.Keys(); len(keys) != 1 || keys[0] != tencent.Key {
		t.Fatalf("expected only tencent, got %v", keys)
	}

	cfg.Providers.Order = []string{"bilibili"}
	if _, err := BuildProviders(&cfg, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Library.Backend = config.BackendSQLite
	cfg.Library.DatabasePath = filepath.Join(t.TempDir(), "library.db")
	store, err := OpenStore(&cfg)
	if err != nil {
		t.Fatalf("OpenStore sqlite: %v", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	cfg.Library.Backend = config.BackendJellyfin
	if _, err := OpenStore(&cfg); err == nil {
		t.Fatal("expected jellyfin backend without url to fail")
	}

	cfg.Library.Backend = "plex"
	if _, err := OpenStore(&cfg); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
