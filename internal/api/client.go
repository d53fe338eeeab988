// Package api はポータルのリモートAPIクライアントを提供する。
// リソースごとのCRUDクライアントと認証クライアントを含む。
// 失敗はすべてmodel.APIErrorに分類して返し、再試行は行わない。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/careportal/internal/model"
)

const (
	// defaultTimeout はHTTPクライアント未指定時のタイムアウト。
	defaultTimeout = 15 * time.Second
	// maxResponseSize はレスポンスボディの最大サイズ（5MB）。
	maxResponseSize = 5 * 1024 * 1024
	// userAgent はリクエストに付与するUser-Agent。
	userAgent = "CarePortal/1.0"
	// RequestIDHeader はリクエストIDを伝搬するヘッダー。
	RequestIDHeader = "X-Request-ID"
)

// TokenSource はBearer認証に使用するアクセストークンを提供する。
// session.Storeが実装する。
type TokenSource interface {
	AccessToken() string
}

// MetricsRecorder はリモートAPI呼び出しの計測値を記録するインターフェース。
type MetricsRecorder interface {
	ObserveAPIRequest(resource, method string, status int, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAPIRequest(string, string, int, time.Duration) {}

// Config はClientの設定。
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Tokens     TokenSource
	Logger     *slog.Logger
	Metrics    MetricsRecorder
	// RateLimit はリソースごとの1秒あたりの最大リクエスト数。0以下で無制限。
	RateLimit rate.Limit
	RateBurst int
}

// Client はリモートAPIの共通HTTPクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	logger     *slog.Logger
	metrics    MetricsRecorder
	throttle   *Throttle
}

// New はClientを生成する。BaseURLはhttpまたはhttpsの絶対URLである必要がある。
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics MetricsRecorder = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     cfg.Tokens,
		logger:     logger,
		metrics:    metrics,
		throttle:   NewThrottle(cfg.RateLimit, cfg.RateBurst),
	}, nil
}

// BaseURL は末尾のスラッシュを除いたベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do はリクエストを1回送信し、2xxのレスポンスボディを返す。
// resourceとidはエラー分類とメトリクスのラベルに使用する。
func (c *Client) do(ctx context.Context, resource, id, method, path string, body any) ([]byte, error) {
	if err := c.throttle.Wait(ctx, resource); err != nil {
		return nil, model.NewNetworkError(err)
	}

	reader, err := encodeBody(body)
	if err != nil {
		return nil, model.NewValidationError(fmt.Sprintf("リクエストの生成に失敗しました: %v", err), nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, model.NewNetworkError(err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveAPIRequest(resource, method, 0, time.Since(start))
		c.logger.Error("リモートAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	duration := time.Since(start)
	c.metrics.ObserveAPIRequest(resource, method, resp.StatusCode, duration)
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("path", path),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classify(resource, id, resp.StatusCode, data)
		c.logger.Warn("リモートAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("kind", string(apiErr.Category)),
			slog.String("request_id", requestID),
		)
		return nil, apiErr
	}

	c.logger.Debug("remote API call completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", duration),
		slog.String("request_id", requestID),
	)
	return data, nil
}

// encodeBody はリクエストボディをJSONに変換する。
// json.RawMessageと[]byteはそのまま送信する。
func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(b) {
			return nil, errors.New("payload is not valid JSON")
		}
		return bytes.NewReader(b), nil
	case []byte:
		if !json.Valid(b) {
			return nil, errors.New("payload is not valid JSON")
		}
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

// decodeError は2xxレスポンスの解析失敗をサーバー障害として返す。
func decodeError(status int, err error) error {
	apiErr := model.NewServerError(status, "サーバーのレスポンスを解析できませんでした")
	apiErr.Err = err
	return apiErr
}
