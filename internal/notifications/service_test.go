package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"danmu/internal/config"
	"danmu/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	agent    string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []captured
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		calls = append(calls, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			agent:    r.Header.Get("User-Agent"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), calls...)
	}
}

func newConfig(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Downloads = true
	cfg.Notifications.Throttling = true
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(newConfig(""))
	if err := svc.NotifyDownloaded(context.Background(), "Example", "tencent", 10); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected nil config to yield noop notifier, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "downloaded",
			send: func(s notifications.Service) error {
				return s.NotifyDownloaded(context.Background(), "Arrival", "tencent", 1200)
			},
			expectTitle:   "Danmu - Downloaded",
			expectMessage: "💬 Arrival: 1200 comments from tencent",
			expectTags:    "danmu,download,completed",
		},
		{
			name: "throttled",
			send: func(s notifications.Service) error {
				return s.NotifyThrottled(context.Background(), "iqiyi", "Arrival")
			},
			expectTitle:   "Danmu - Rate Limited",
			expectMessage: "⏳ iqiyi throttled requests for Arrival",
			expectTags:    "danmu,provider,throttled",
		},
		{
			name: "batch with failures",
			send: func(s notifications.Service) error {
				return s.NotifyBatchCompleted(context.Background(), 3, 1, 1500*time.Millisecond)
			},
			expectTitle:   "Danmu - Batch Complete (with errors)",
			expectMessage: "Batch complete: 3 downloaded, 1 failed in 2s",
			expectTags:    "danmu,batch,completed",
		},
		{
			name: "error",
			send: func(s notifications.Service) error {
				return s.NotifyError(context.Background(), errors.New("library unreachable"), "commit")
			},
			expectTitle:    "Danmu - Error",
			expectMessage:  "❌ Error with commit: library unreachable",
			expectTags:     "danmu,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Danmu - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "danmu,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, calls := newCaptureServer(t)
			svc := notifications.NewService(newConfig(server.URL))
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			got := calls()
			if len(got) != 1 {
				t.Fatalf("expected 1 request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got[0].title)
			}
			if got[0].body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got[0].body)
			}
			if got[0].tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got[0].tags)
			}
			if got[0].priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got[0].priority)
			}
			if got[0].agent == "" {
				t.Fatal("expected user agent header")
			}
		})
	}
}

func TestNtfyServiceHonoursMutedFamilies(t *testing.T) {
	server, calls := newCaptureServer(t)
	cfg := newConfig(server.URL)
	cfg.Notifications.Downloads = false
	cfg.Notifications.Throttling = false

	svc := notifications.NewService(cfg)
	ctx := context.Background()
	if err := svc.NotifyDownloaded(ctx, "Arrival", "tencent", 5); err != nil {
		t.Fatalf("NotifyDownloaded: %v", err)
	}
	if err := svc.NotifyThrottled(ctx, "tencent", "Arrival"); err != nil {
		t.Fatalf("NotifyThrottled: %v", err)
	}
	if err := svc.NotifyBatchCompleted(ctx, 2, 0, time.Second); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if got := calls(); len(got) != 0 {
		t.Fatalf("expected muted families to send nothing, got %d requests", len(got))
	}
}

func TestNtfyServiceSkipsEmptyBatch(t *testing.T) {
	server, calls := newCaptureServer(t)
	svc := notifications.NewService(newConfig(server.URL))
	if err := svc.NotifyBatchCompleted(context.Background(), 0, 0, time.Second); err != nil {
		t.Fatalf("NotifyBatchCompleted: %v", err)
	}
	if got := calls(); len(got) != 0 {
		t.Fatalf("expected empty batch to be silent, got %d requests", len(got))
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	svc := notifications.NewService(newConfig(server.URL))
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
