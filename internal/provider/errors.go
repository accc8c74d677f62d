package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"danmu/internal/services"
)

// ErrRateLimited marks throttling responses. It aborts the fallback chain for
// the current item only.
var ErrRateLimited = errors.New("provider rate limited")

// RateLimitError reports that a provider refused a request because of
// throttling.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ErrRateLimited.Error()
	}
	msg := fmt.Sprintf("provider %s rate limited", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrRateLimited and services.ErrTransient.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited || target == services.ErrTransient
}

func (e *RateLimitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatusError reports a non-2xx response from a provider endpoint.
type HTTPStatusError struct {
	Provider   string
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("provider %s: HTTP %d for %s", e.Provider, e.StatusCode, e.URL)
}

// Is classifies by status: 404 is not found, 5xx is transient, other codes are
// external failures.
func (e *HTTPStatusError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case services.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case services.ErrTransient:
		return e.StatusCode >= http.StatusInternalServerError
	case services.ErrExternalTool:
		return true
	}
	return false
}

// CheckResponse converts a throttling or non-2xx response into an error.
// 429 always counts as throttling; 403 counts when the site sends Retry-After.
func CheckResponse(provider string, resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("provider %s: nil response", provider)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("Retry-After") != "") {
		return &RateLimitError{Provider: provider, RetryAfter: retryAfter}
	}
	reqURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		reqURL = resp.Request.URL.Redacted()
	}
	return &HTTPStatusError{Provider: provider, URL: reqURL, StatusCode: resp.StatusCode}
}

// IsRateLimited reports whether err carries the throttling signal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
