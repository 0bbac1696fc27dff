package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"SonicOnboard/internal/errors"
	"SonicOnboard/pkg/logger"
)

const (
	defaultMaxAttempts = 10
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 60 * time.Second
)

// Client 是带重试策略的 JSON HTTP 客户端。
// 仅在上游返回 429 时按指数退避重试，其余错误立即返回。
type Client struct {
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Option 定义客户端可选配置。
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxAttempts 设置最大尝试次数（含首次请求）。
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff 设置退避基准与上限。
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// New 创建客户端。
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetJSON 发起 GET 请求并将响应体解析到 out。
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return c.doJSON(ctx, http.MethodGet, url, headers, nil, out)
}

// PostJSON 发起 POST 请求，payload 以 JSON 编码，响应体解析到 out。
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload any, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(errors.CodeInvalidArgument, err, "编码请求体失败")
		}
		body = encoded
	}
	return c.doJSON(ctx, http.MethodPost, url, headers, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, headers map[string]string, body []byte, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return errors.Wrap(errors.CodeInvalidArgument, err, "构造请求失败")
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(errors.CodeTimeout, err, fmt.Sprintf("请求 %s 失败", url))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = errors.New(errors.CodeRateLimited, fmt.Sprintf("上游限流: %s", url))
			if attempt == c.maxAttempts {
				break
			}
			delay := c.backoff(attempt)
			logger.Named("httpx").Warn("rate limited, backing off",
				"url", url, "attempt", attempt, "delay", delay.String())
			select {
			case <-ctx.Done():
				return errors.Wrap(errors.CodeTimeout, ctx.Err(), "等待重试时上下文取消")
			case <-time.After(delay):
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return errors.Wrap(errors.CodeUnknown, readErr, "读取响应体失败")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.New(errors.CodeUnknown,
				fmt.Sprintf("请求 %s 返回 %d: %s", url, resp.StatusCode, truncate(string(data), 256)),
				errors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(errors.CodeUnknown, err, fmt.Sprintf("解析 %s 响应失败", url))
		}
		return nil
	}
	return lastErr
}

// backoff 返回第 attempt 次失败后的等待时长（指数退避，带上限）。
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
