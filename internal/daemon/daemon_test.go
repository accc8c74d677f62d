package daemon_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"danmu/internal/api"
	"danmu/internal/artifact"
	"danmu/internal/config"
	"danmu/internal/daemon"
	"danmu/internal/fileutil"
	"danmu/internal/library"
	"danmu/internal/provider"
	"danmu/internal/testsupport"
)

type recordingNotifier struct {
	mu      sync.Mutex
	batches []int
}

func (n *recordingNotifier) NotifyDownloaded(context.Context, string, string, int) error { return nil }
func (n *recordingNotifier) NotifyThrottled(context.Context, string, string) error       { return nil }
func (n *recordingNotifier) NotifyError(context.Context, error, string) error            { return nil }
func (n *recordingNotifier) TestNotification(context.Context) error                      { return nil }

func (n *recordingNotifier) NotifyBatchCompleted(_ context.Context, downloads, _ int, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, downloads)
	return nil
}

func (n *recordingNotifier) downloads() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.batches...)
}

func newDaemon(t *testing.T, cfg *config.Config, store library.Store, notifier *recordingNotifier, providers ...provider.Provider) *daemon.Daemon {
	t.Helper()
	reg, err := provider.NewRegistry(providers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Dependencies{Store: store, Providers: reg, Notifier: notifier})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewMemoryStore()
	d := newDaemon(t, cfg, store, &recordingNotifier{}, testsupport.NewFakeProvider("xsite", "XID"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.StartedAt.IsZero() {
		t.Fatalf("expected daemon to report running, got %+v", status)
	}
	if d.APIAddress() == "" {
		t.Fatal("expected api to be listening")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other := newDaemon(t, cfg, store, &recordingNotifier{}, testsupport.NewFakeProvider("xsite", "XID"))
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected lock contention to fail a second instance")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestNewRequiresProviders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	reg, err := provider.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := daemon.New(cfg, daemon.Dependencies{Store: testsupport.NewMemoryStore(), Providers: reg}); err == nil {
		t.Fatal("expected error without providers")
	}
}

func TestDaemonAddThenUpdateDownloadsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	movie := &library.Item{
		ID: "m1", Kind: library.KindMovie, Name: "Arrival", Year: 2016,
		Path:        filepath.Join(t.TempDir(), "Arrival.mkv"),
		ProviderIDs: map[string]string{"XID": "42"},
	}
	store := testsupport.NewMemoryStore(movie)
	x := testsupport.NewFakeProvider("xsite", "XID")
	x.Episodes["42"] = &provider.Episode{ID: "42", CommentID: "c42"}
	x.Comments["c42"] = testsupport.Payload(t, 2048)
	notifier := &recordingNotifier{}
	d := newDaemon(t, cfg, store, notifier, x)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, typ := range []string{"ItemAdded", "ItemUpdated"} {
		resp, err := d.HandleNotification(ctx, api.Notification{NotificationType: typ, ItemID: "m1", ItemType: "Movie"})
		if err != nil {
			t.Fatalf("HandleNotification(%s): %v", typ, err)
		}
		if !resp.Queued {
			t.Fatalf("expected %s to queue, got %+v", typ, resp)
		}
	}

	path, _ := artifact.XMLPath(movie, "XID")
	deadline := time.Now().Add(10 * time.Second)
	for len(notifier.downloads()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for batch")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !fileutil.Exists(path) {
		t.Fatal("expected artifact after batch")
	}
	if got := notifier.downloads(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected one batch with one download, got %v", got)
	}
	if got := x.Calls("GetComments"); got != 1 {
		t.Fatalf("expected one download, got %d", got)
	}
	status := d.Status(ctx)
	if status.Batches != 1 || status.Stats.Downloads != 1 || status.PendingAdds != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}
