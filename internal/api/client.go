package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable is returned when no API address is configured.
var ErrUnavailable = errors.New("daemon api unavailable")

// StatusError is a non-2xx API response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon api returned status %d", e.Status)
	}
	return fmt.Sprintf("daemon api returned status %d: %s", e.Status, e.Message)
}

// Client talks to the daemon HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind (host:port or URL). An empty bind yields
// ErrUnavailable.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Providers lists registered providers.
func (c *Client) Providers(ctx context.Context) (ProvidersResponse, error) {
	var out ProvidersResponse
	err := c.do(ctx, http.MethodGet, "/api/providers", nil, nil, &out)
	return out, err
}

// Refresh queues a manual refresh.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (RefreshResponse, error) {
	var out RefreshResponse
	err := c.do(ctx, http.MethodPost, "/api/refresh", nil, req, &out)
	return out, err
}

// Search queries providers. kind and provider may be empty.
func (c *Client) Search(ctx context.Context, keyword, kind, provider string, year int) (SearchResponse, error) {
	values := url.Values{}
	values.Set("keyword", keyword)
	if kind != "" {
		values.Set("kind", kind)
	}
	if provider != "" {
		values.Set("provider", provider)
	}
	if year > 0 {
		values.Set("year", fmt.Sprint(year))
	}
	var out SearchResponse
	err := c.do(ctx, http.MethodGet, "/api/search", values, nil, &out)
	return out, err
}

// Notify posts a library notification.
func (c *Client) Notify(ctx context.Context, n Notification) (NotificationResponse, error) {
	var out NotificationResponse
	err := c.do(ctx, http.MethodPost, "/api/events", nil, n, &out)
	return out, err
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) (TestNotificationResponse, error) {
	var out TestNotificationResponse
	err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, &out)
	return out, err
}

// Danmu downloads the stored comment document for an item. provider may be
// empty to take the first available document.
func (c *Client) Danmu(ctx context.Context, itemID, provider string) ([]byte, error) {
	values := url.Values{}
	if provider != "" {
		values.Set("provider", provider)
	}
	resp, err := c.send(ctx, http.MethodGet, "/api/danmu/"+url.PathEscape(itemID), values, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	if c == nil {
		return nil, ErrUnavailable
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return nil, &StatusError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	return resp, nil
}
