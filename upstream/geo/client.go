// Package geo is the client for the AMap REST v3 geospatial provider.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/health"
	"github.com/c360/geogate/metric"
	"github.com/c360/geogate/pkg/retry"
)

const maxResponseBytes = 8 << 20

// Querier is the geospatial operation the dispatcher depends on.
type Querier interface {
	Query(ctx context.Context, endpoint string, params map[string]any) Result
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration // per attempt
	RateLimit     float64       // requests per second; <=0 disables limiting
	Burst         int
	RetryAttempts int
	HTTPClient    *http.Client
	Logger        *slog.Logger
	Metrics       *metric.Metrics
}

// Client calls provider endpoints. Query never returns a Go error: every
// failure becomes a {status:"0"} Result.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.RetryAttempts
	policy.Retryable = errors.IsTransient

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		limiter: limiter,
		policy:  policy,
		logger:  logger.With("component", "geo-client"),
		metrics: cfg.Metrics,
	}
}

// Query issues GET <base>/<endpoint> with params plus key and output=json.
// The caller's params map is not modified.
func (c *Client) Query(ctx context.Context, endpoint string, params map[string]any) Result {
	start := time.Now()
	u := c.buildURL(endpoint, params)

	body, err := retry.DoValue(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, u)
	})
	if err != nil {
		c.metrics.RecordUpstream("geo", "error", time.Since(start))
		c.logger.Warn("geo query failed", "endpoint", endpoint, "error", health.SanitizeError(err.Error()))
		return Failuref("upstream request failed: %s", health.SanitizeError(err.Error()))
	}

	result, err := decode(body)
	if err != nil {
		c.metrics.RecordUpstream("geo", "invalid", time.Since(start))
		c.logger.Warn("geo response not decodable", "endpoint", endpoint, "error", err)
		return Failuref("upstream response invalid: %s", err.Error())
	}

	outcome := "ok"
	if !result.OK() {
		outcome = "rejected"
	}
	c.metrics.RecordUpstream("geo", outcome, time.Since(start))
	c.logger.Debug("geo query", "endpoint", endpoint, "status", result.Status(), "duration", time.Since(start))
	return result
}

func (c *Client) buildURL(endpoint string, params map[string]any) string {
	q := url.Values{}
	for k, v := range params {
		if s, ok := paramString(v); ok {
			q.Set(k, s)
		}
	}
	q.Set("key", c.apiKey)
	q.Set("output", "json")
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/") + "?" + q.Encode()
}

func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(errors.WrapTransient(err, "GeoClient", "fetch", "wait for rate limiter"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(errors.WrapInvalid(err, "GeoClient", "fetch", "build request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "GeoClient", "fetch", "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.WrapTransient(err, "GeoClient", "fetch", "read body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("%w: HTTP %d", errors.ErrUpstreamStatus, resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.WrapTransient(statusErr, "GeoClient", "fetch", "check status")
		}
		return nil, errors.WrapInvalid(statusErr, "GeoClient", "fetch", "check status")
	}
	return body, nil
}

func decode(body []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUpstreamResponse, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty body", errors.ErrUpstreamResponse)
	}
	if _, ok := result["status"]; !ok {
		result["status"] = "0"
		if result.Info() == "" {
			result["info"] = "upstream response missing status"
		}
	}
	return result, nil
}

// paramString renders a decoded JSON value as a query value. Objects and
// nulls are skipped; arrays are joined with "|" as the provider expects.
func paramString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := paramString(it); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|"), true
	case []string:
		return strings.Join(t, "|"), true
	default:
		return "", false
	}
}
