package notify

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
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const mailerService = "mailer"

var (
	mailerSuccessCounter = metrics.GetOrCreateCounter(`mailer_requests_total{result="success"}`)
	mailerErrorCounter   = metrics.GetOrCreateCounter(`mailer_requests_total{result="error"}`)
	mailerMockCounter    = metrics.GetOrCreateCounter(`mailer_requests_total{result="mock"}`)

	mailerDurationHistogram = metrics.GetOrCreateHistogram(`mailer_request_duration_milliseconds`)
)

// Mailer posts plain-text emails to an HTTP mail API. In mock mode it only logs.
type Mailer struct {
	url    string
	apiKey string
	from   string
	mock   bool
	client *http.Client
	logger *slog.Logger
}

func NewMailer(cfg config.NotifyMailer, logger *slog.Logger) *Mailer {
	return &Mailer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		from:   cfg.From,
		mock:   cfg.Mock || cfg.URL == "",
		client: &http.Client{Timeout: config.Millis(cfg.TimeoutMs)},
		logger: logger,
	}
}

type mailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (m *Mailer) Send(ctx context.Context, email Email) error {
	if len(email.Recipients) == 0 {
		return ErrNoRecipients
	}

	if m.mock {
		m.logger.InfoContext(ctx, "Mock mailer, email not sent",
			"kind", email.Kind, "to", email.Recipients, "subject", email.Subject)
		mailerMockCounter.Inc()
		return nil
	}

	startTime := time.Now()
	defer func() {
		mailerDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	data, err := json.Marshal(mailRequest{
		From:    m.from,
		To:      email.Recipients,
		Subject: email.Subject,
		Text:    email.Body,
	})
	if err != nil {
		return errors.Wrap(err, "encoding email")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "building mail request")
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		mailerErrorCounter.Inc()
		return &apperr.UpstreamNetworkError{Service: mailerService, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		mailerErrorCounter.Inc()
		return &apperr.UpstreamHTTPError{Service: mailerService, StatusCode: resp.StatusCode, Body: string(body)}
	}

	m.logger.InfoContext(ctx, "Email sent", "kind", email.Kind, "aggregateId", email.AggregateID)
	mailerSuccessCounter.Inc()
	return nil
}
