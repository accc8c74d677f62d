package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"danmu/internal/config"
)

const userAgent = "danmu/0.1.0"

// Service defines the notification surface exposed to the acquisition pipeline.
type Service interface {
	NotifyDownloaded(ctx context.Context, itemName, provider string, comments int) error
	NotifyThrottled(ctx context.Context, provider, itemName string) error
	NotifyBatchCompleted(ctx context.Context, downloads, failures int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		downloads:  cfg.Notifications.Downloads,
		throttling: cfg.Notifications.Throttling,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	downloads  bool
	throttling bool
}

func (n *ntfyService) NotifyDownloaded(ctx context.Context, itemName, provider string, comments int) error {
	if !n.downloads {
		return nil
	}
	data := payload{
		title:   "Danmu - Downloaded",
		message: fmt.Sprintf("💬 %s: %d comments from %s", displayName(itemName), comments, displayName(provider)),
		tags:    []string{"danmu", "download", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyThrottled(ctx context.Context, provider, itemName string) error {
	if !n.throttling {
		return nil
	}
	data := payload{
		title:   "Danmu - Rate Limited",
		message: fmt.Sprintf("⏳ %s throttled requests for %s", displayName(provider), displayName(itemName)),
		tags:    []string{"danmu", "provider", "throttled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, downloads, failures int, duration time.Duration) error {
	if !n.downloads || downloads+failures == 0 {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "Danmu - Batch Complete"
	message := fmt.Sprintf("Batch complete: %d downloaded in %s", downloads, duration)
	if failures > 0 {
		title = "Danmu - Batch Complete (with errors)"
		message = fmt.Sprintf("Batch complete: %d downloaded, %d failed in %s", downloads, failures, duration)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"danmu", "batch", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Danmu - Error",
		message:  builder.String(),
		tags:     []string{"danmu", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Danmu - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"danmu", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func displayName(value string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return "unknown"
}

type noopService struct{}

func (noopService) NotifyDownloaded(context.Context, string, string, int) error         { return nil }
func (noopService) NotifyThrottled(context.Context, string, string) error               { return nil }
func (noopService) NotifyBatchCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
