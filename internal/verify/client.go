package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/config"
	"fulfillment-service/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const serviceName = "verify"

var (
	verifySuccessCounter  = metrics.GetOrCreateCounter(`verify_requests_total{result="success"}`)
	verifyDeclinedCounter = metrics.GetOrCreateCounter(`verify_requests_total{result="declined"}`)
	verifyErrorCounter    = metrics.GetOrCreateCounter(`verify_requests_total{result="error"}`)

	markSuccessCounter = metrics.GetOrCreateCounter(`verify_mark_total{result="success"}`)
	markErrorCounter   = metrics.GetOrCreateCounter(`verify_mark_total{result="error"}`)

	verifyDurationHistogram = metrics.GetOrCreateHistogram(`verify_request_duration_milliseconds`)
)

type Client struct {
	url     string
	markURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(cfg config.Verify, logger *slog.Logger) *Client {
	return &Client{
		url:     cfg.URL,
		markURL: cfg.MarkURL,
		client:  &http.Client{Timeout: config.Millis(cfg.TimeoutMs)},
		logger:  logger,
	}
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Verify posts the signed, priced payment. It reports true only for a 2xx
// answer whose body declares success.
func (c *Client) Verify(ctx context.Context, req model.VerificationRequest) (bool, error) {
	startTime := time.Now()
	defer func() {
		verifyDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	status, body, err := c.post(ctx, c.url, req)
	if err != nil {
		verifyErrorCounter.Inc()
		return false, err
	}

	c.logger.DebugContext(ctx, "Verification response", "status", status, "body", string(body))

	if status < 200 || status >= 300 {
		verifyErrorCounter.Inc()
		return false, &apperr.UpstreamHTTPError{Service: serviceName, StatusCode: status, Body: string(body)}
	}

	var resp verifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		verifyDeclinedCounter.Inc()
		c.logger.WarnContext(ctx, "Verification response is not JSON", "error", err)
		return false, nil
	}
	if !resp.Success {
		verifyDeclinedCounter.Inc()
		return false, nil
	}

	verifySuccessCounter.Inc()
	return true, nil
}

type markRequest struct {
	JobID     string `json:"job_id"`
	PaymentID string `json:"razorpay_payment_id"`
}

// Mark tells the storefront that the job was reconciled. It is best effort;
// with no mark URL configured it does nothing.
func (c *Client) Mark(ctx context.Context, jobID, paymentID string) error {
	if c.markURL == "" {
		return nil
	}

	status, body, err := c.post(ctx, c.markURL, markRequest{JobID: jobID, PaymentID: paymentID})
	if err != nil {
		markErrorCounter.Inc()
		return err
	}
	if status < 200 || status >= 300 {
		markErrorCounter.Inc()
		return &apperr.UpstreamHTTPError{Service: serviceName, StatusCode: status, Body: string(body)}
	}

	markSuccessCounter.Inc()
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "encoding verification payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, errors.Wrap(err, "building verification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error calling verification endpoint", "url", url, "error", err)
		return 0, nil, &apperr.UpstreamNetworkError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &apperr.UpstreamNetworkError{Service: serviceName, Err: err}
	}
	return resp.StatusCode, body, nil
}
