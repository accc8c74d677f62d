package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"danmu/internal/config"
	"danmu/internal/daemon"
	"danmu/internal/library"
	"danmu/internal/provider"
	"danmu/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *testsupport.MemoryStore
	daemon     *daemon.Daemon
	movie      *library.Item
	address    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "danmu.toml")
	writeTestConfig(t, configPath, cfg)

	movie := &library.Item{ID: "m1", Kind: library.KindMovie, Name: "Arrival", Year: 2016, Path: filepath.Join(t.TempDir(), "Arrival.mkv")}
	store := testsupport.NewMemoryStore(movie)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Candidates["Arrival"] = []provider.Candidate{{ID: "a1", Name: "Arrival", Year: 2016}}
	reg, err := provider.NewRegistry(x)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{Store: store, Providers: reg})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		movie:      movie,
		address:    d.APIAddress(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, address, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if address != "" {
		flags = append(flags, "--api", address)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput: %s", needle, haystack)
	}
}
