package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/config"
	"fulfillment-service/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	serviceName = "gateway"
	pageSize    = 100

	defaultMaxAttempts  = 3
	defaultMaxBackoffMs = 6_000
)

var (
	requestSuccessCounter      = metrics.GetOrCreateCounter(`gateway_requests_total{result="success"}`)
	requestHTTPErrorCounter    = metrics.GetOrCreateCounter(`gateway_requests_total{result="http_error"}`)
	requestNetworkErrorCounter = metrics.GetOrCreateCounter(`gateway_requests_total{result="network_error"}`)
	requestRateLimitedCounter  = metrics.GetOrCreateCounter(`gateway_requests_total{result="rate_limited"}`)

	requestDurationHistogram = metrics.GetOrCreateHistogram(`gateway_request_duration_milliseconds`)
)

// Client talks to the payment gateway's REST API with key id/secret basic auth.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	client     *http.Client
	listClient *http.Client
	limiter    *rate.Limiter

	maxAttempts    int
	maxBackoff     time.Duration
	initialBackoff time.Duration

	logger *slog.Logger
}

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	maxBackoffMs := cfg.MaxBackoffMs
	if maxBackoffMs <= 0 {
		maxBackoffMs = defaultMaxBackoffMs
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		keyID:          cfg.KeyID,
		keySecret:      cfg.KeySecret,
		client:         &http.Client{Timeout: config.Millis(cfg.TimeoutMs)},
		listClient:     &http.Client{Timeout: config.Millis(cfg.ListTimeoutMs)},
		limiter:        rate.NewLimiter(limit, burst),
		maxAttempts:    maxAttempts,
		maxBackoff:     config.Millis(maxBackoffMs),
		initialBackoff: time.Second,
		logger:         logger,
	}
}

// GetPayment fetches one payment. An unknown id is an UpstreamHTTPError with status 404.
func (c *Client) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	var payment model.Payment
	path := "/v1/payments/" + url.PathEscape(id)
	if err := c.get(ctx, c.client, path, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// FetchPayments pages through the payments created in [From, To] until a short
// page or MaxFetch records. The gateway has no status filter, so Status is
// applied here.
func (c *Client) FetchPayments(ctx context.Context, q model.PaymentQuery) ([]model.Payment, error) {
	status := strings.ToLower(strings.TrimSpace(q.Status))

	var out []model.Payment
	fetched := 0
	for q.MaxFetch <= 0 || fetched < q.MaxFetch {
		count := pageSize
		if q.MaxFetch > 0 && q.MaxFetch-fetched < count {
			count = q.MaxFetch - fetched
		}

		params := url.Values{}
		params.Set("count", strconv.Itoa(count))
		params.Set("skip", strconv.Itoa(fetched))
		if q.From > 0 {
			params.Set("from", strconv.FormatInt(q.From, 10))
		}
		if q.To > 0 {
			params.Set("to", strconv.FormatInt(q.To, 10))
		}

		var page model.PaymentCollection
		if err := c.get(ctx, c.listClient, "/v1/payments", params, &page); err != nil {
			return nil, err
		}

		fetched += len(page.Items)
		for _, p := range page.Items {
			if status == "" || strings.EqualFold(p.Status, status) {
				out = append(out, p)
			}
		}

		if len(page.Items) < count {
			break
		}
	}

	c.logger.InfoContext(ctx, "Fetched payments from gateway", "fetched", fetched, "kept", len(out), "status", q.Status)
	return out, nil
}

type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }

func (c *Client) get(ctx context.Context, httpClient *http.Client, path string, params url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	b := &retryAfterBackOff{max: c.maxBackoff}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.MaxInterval = c.maxBackoff
	b.BackOff = backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1))

	operation := func() error {
		err := c.do(ctx, httpClient, target, out)
		var retryable *retryableError
		if errors.As(err, &retryable) {
			b.next = retryable.retryAfter
			c.logger.WarnContext(ctx, "Gateway rate limited request", "path", path, "retryAfter", retryable.retryAfter)
			return retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	var retryable *retryableError
	if errors.As(err, &retryable) {
		return retryable.err
	}
	return err
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, target string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &apperr.UpstreamNetworkError{Service: serviceName, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "building gateway request")
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := httpClient.Do(req)
	requestDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	if err != nil {
		requestNetworkErrorCounter.Inc()
		return &apperr.UpstreamNetworkError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestNetworkErrorCounter.Inc()
		return &apperr.UpstreamNetworkError{Service: serviceName, Err: err}
	}

	httpErr := &apperr.UpstreamHTTPError{Service: serviceName, StatusCode: resp.StatusCode, Body: string(body)}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		requestRateLimitedCounter.Inc()
		return &retryableError{err: httpErr, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		requestHTTPErrorCounter.Inc()
		return httpErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		requestHTTPErrorCounter.Inc()
		return &apperr.DataError{Reason: "decoding gateway response: " + err.Error()}
	}
	requestSuccessCounter.Inc()
	return nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// retryAfterBackOff prefers the server's Retry-After over the computed
// interval and caps both at max.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
	max  time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.next > 0 {
		d, b.next = b.next, 0
	}
	if d > b.max {
		d = b.max
	}
	return d
}
