package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/logcontext"
	"fulfillment-service/internal/model"
	"fulfillment-service/internal/pricing"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	sweepSuccessCounter = metrics.GetOrCreateCounter(`reconcile_sweeps_total{result="success"}`)
	sweepEmptyCounter   = metrics.GetOrCreateCounter(`reconcile_sweeps_total{result="empty"}`)
	sweepAbortedCounter = metrics.GetOrCreateCounter(`reconcile_sweeps_total{result="aborted"}`)
	sweepFailedCounter  = metrics.GetOrCreateCounter(`reconcile_sweeps_total{result="failed"}`)

	sweepDurationHistogram = metrics.GetOrCreateHistogram(`reconcile_sweep_duration_milliseconds`)

	reportFailedCounter = metrics.GetOrCreateCounter(`reconcile_reports_total{result="failed"}`)
	reportSentCounter   = metrics.GetOrCreateCounter(`reconcile_reports_total{result="sent"}`)
)

func countOutcome(o Outcome) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`reconcile_candidates_total{outcome=%q}`, strings.ToLower(string(o)))).Inc()
}

type Gateway interface {
	PaymentLister
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
}

type OrderStore interface {
	OrderPager
	// FindByJobID returns nil without error when no order has the job id.
	FindByJobID(ctx context.Context, jobID string) (*model.Order, error)
	// ApplyReconciliation writes all pricing columns of every order whose
	// transaction_id equals paymentID in a single statement.
	ApplyReconciliation(ctx context.Context, paymentID string, r model.Reconciliation) (int64, error)
}

type Verifier interface {
	Verify(ctx context.Context, req model.VerificationRequest) (bool, error)
	Mark(ctx context.Context, jobID, paymentID string) error
}

type ReportSink interface {
	Deliver(ctx context.Context, report *Report) error
}

type Options struct {
	PaymentStatus      string
	NAStatus           string
	Lookback           time.Duration
	Offset             time.Duration
	MaxFetch           int
	OrdersPageSize     int
	CaseInsensitiveIDs bool
	Location           *time.Location
	// SigningSecret is the gateway key secret shared with the verification endpoint.
	SigningSecret string
}

// Sweeper runs one reconciliation pass over a time window. Callers must not
// run two sweeps concurrently; the scheduler serializes them.
type Sweeper struct {
	gateway  Gateway
	orders   OrderStore
	verifier Verifier
	pricing  *pricing.Engine
	sink     ReportSink
	attempts *AttemptCache
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(gateway Gateway, orders OrderStore, verifier Verifier, engine *pricing.Engine, sink ReportSink, opts Options, logger *slog.Logger) *Sweeper {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Sweeper{
		gateway:  gateway,
		orders:   orders,
		verifier: verifier,
		pricing:  engine,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// WithAttemptCache skips payments reconciled by this process within the cache TTL.
func (s *Sweeper) WithAttemptCache(cache *AttemptCache) *Sweeper {
	s.attempts = cache
	return s
}

func (s *Sweeper) DiscoverParams(window Window) DiscoverParams {
	return DiscoverParams{
		PaymentStatus:      s.opts.PaymentStatus,
		NAStatus:           s.opts.NAStatus,
		Window:             window,
		MaxFetch:           s.opts.MaxFetch,
		OrdersPageSize:     s.opts.OrdersPageSize,
		CaseInsensitiveIDs: s.opts.CaseInsensitiveIDs,
	}
}

// Discover exposes NA discovery for an arbitrary window.
func (s *Sweeper) Discover(ctx context.Context, window Window) (*Discovery, error) {
	return s.DiscoverWith(ctx, s.DiscoverParams(window))
}

func (s *Sweeper) DiscoverWith(ctx context.Context, p DiscoverParams) (*Discovery, error) {
	return Discover(ctx, s.gateway, s.orders, p)
}

func (s *Sweeper) Location() *time.Location {
	return s.opts.Location
}

// Run executes a sweep over [now-lookback, now-offset). A single candidate's
// failure never stops the batch, except a transport failure (the remaining
// candidates are dropped) or an order store failure (returned as the error).
// The report is delivered whenever there was at least one candidate.
// Cancelling ctx does not stop a sweep once started; the HTTP clients bound
// every call with their own timeouts.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	ctx = context.WithoutCancel(ctx)
	startTime := time.Now()
	defer func() {
		sweepDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	runID := uuid.New().String()
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", runID))

	window := SweepWindow(s.now(), s.opts.Lookback, s.opts.Offset, s.opts.Location)
	s.logger.InfoContext(ctx, "Starting reconciliation sweep",
		"from", window.From.Format(time.RFC3339), "to", window.To.Format(time.RFC3339))

	discovery, err := s.Discover(ctx, window)
	if err != nil {
		s.logger.ErrorContext(ctx, "NA discovery failed", "error", err)
		sweepFailedCounter.Inc()
		return nil, err
	}

	report := &Report{RunID: runID, Window: window, Location: s.opts.Location, Discovery: discovery.Summary}

	if len(discovery.Candidates) == 0 {
		s.logger.InfoContext(ctx, "No NA payments in window; nothing to do")
		sweepEmptyCounter.Inc()
		return report, nil
	}

	candidateIDs := dedupe(discovery.PaymentIDs())
	s.logger.InfoContext(ctx, "Candidate payments in window", "count", len(candidateIDs), "ids", candidateIDs)

	var sweepErr error
	for _, paymentID := range candidateIDs {
		candidateCtx := logcontext.AppendCtx(ctx, slog.String("paymentId", paymentID))

		row, err := s.processCandidate(candidateCtx, paymentID)
		report.add(row)
		countOutcome(row.Outcome)

		if err == nil {
			continue
		}
		if apperr.IsNetwork(err) {
			s.logger.WarnContext(candidateCtx, "Network failure; aborting remaining candidates", "error", err)
			report.Aborted, report.AbortCause = true, err.Error()
			break
		}
		if apperr.IsOrderStore(err) {
			s.logger.ErrorContext(candidateCtx, "Order store failure; aborting sweep", "error", err)
			report.Aborted, report.AbortCause = true, err.Error()
			sweepErr = err
			break
		}
		s.logger.WarnContext(candidateCtx, "Candidate failed", "error", err, "outcome", row.Outcome)
	}

	s.deliver(ctx, report)

	switch {
	case sweepErr != nil:
		sweepFailedCounter.Inc()
	case report.Aborted:
		sweepAbortedCounter.Inc()
	default:
		sweepSuccessCounter.Inc()
	}

	s.logger.InfoContext(ctx, "Reconciliation sweep finished",
		"found", len(report.Rows), "verified", report.Verified(), "aborted", report.Aborted)
	return report, sweepErr
}

func (s *Sweeper) deliver(ctx context.Context, report *Report) {
	if err := s.sink.Deliver(ctx, report); err != nil {
		s.logger.ErrorContext(ctx, "Failed to deliver reconciliation report", "error", err)
		reportFailedCounter.Inc()
		return
	}
	s.logger.InfoContext(ctx, "Reconciliation report delivered", "subject", report.Subject())
	reportSentCounter.Inc()
}

// processCandidate always returns a row. The error is non-nil only when the
// caller has to decide whether the batch can go on.
func (s *Sweeper) processCandidate(ctx context.Context, paymentID string) (ReportRow, error) {
	row := newRow(paymentID)

	if s.attempts.Seen(paymentID) {
		s.logger.InfoContext(ctx, "Payment reconciled recently by this process; skipping")
		row.Outcome, row.Detail = OutcomeSkipped, "recently reconciled"
		return row, nil
	}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		row.Outcome, row.Detail = OutcomeFetchFailed, err.Error()
		switch {
		case apperr.IsNotFound(err):
			s.logger.WarnContext(ctx, "Payment not found at gateway; skipping")
			row.Outcome, row.Detail = OutcomeSkipped, "not found at gateway"
			return row, nil
		case apperr.IsNetwork(err):
			return row, err
		default:
			s.logger.WarnContext(ctx, "Fetching payment failed", "error", err)
			return row, nil
		}
	}

	meta := ExtractMetadata(*payment)
	if meta.Email != "" {
		row.Email = meta.Email
	}
	row.CreatedAt = FormatEpoch(payment.CreatedAt, s.opts.Location)
	row.AmountDisplay = FormatAmount(payment.Amount, payment.Currency)
	row.PreviewURL = meta.PreviewURL

	orderID := strings.TrimSpace(payment.OrderID)
	if orderID == "" {
		s.logger.WarnContext(ctx, "Payment has no order_id; skipping")
		row.Outcome, row.Detail = OutcomeSkipped, "missing order_id"
		return row, nil
	}

	signature := Sign(s.opts.SigningSecret, orderID, paymentID)

	if meta.JobID == "" {
		s.logger.InfoContext(ctx, "No job_id in payment payload; skipping")
		row.Outcome, row.Detail = OutcomeSkipped, "no job_id"
		return row, nil
	}
	row.JobID = meta.JobID

	order, err := s.orders.FindByJobID(ctx, meta.JobID)
	if err != nil {
		row.Outcome, row.Detail = OutcomeStoreFailed, "order lookup failed"
		return row, apperr.NewOrderStoreError("find by job_id", err)
	}
	var bookID, bookStyle string
	if order != nil {
		bookID, bookStyle = order.BookID, order.BookStyle
	}

	quote := s.pricing.Quote(bookID, bookStyle, meta.DiscountCode, payment.Amount)
	values := quote.Values()
	s.logger.InfoContext(ctx, "Priced payment",
		"jobId", meta.JobID, "bookId", bookID, "bookStyle", bookStyle,
		"fromCatalog", quote.FromCatalog, "finalAmount", values.FinalAmount)

	ok, err := s.verifier.Verify(ctx, model.VerificationRequest{
		OrderID:            orderID,
		PaymentID:          paymentID,
		Signature:          signature,
		JobID:              meta.JobID,
		ActualPrice:        values.ActualPrice,
		DiscountCode:       values.DiscountCode,
		DiscountPercentage: values.DiscountPercentage,
		DiscountAmount:     values.DiscountAmount,
		FinalAmount:        values.FinalAmount,
		ShippingPrice:      values.Shipping,
		Taxes:              values.Taxes,
		BookID:             optional(bookID),
		BookStyle:          optional(bookStyle),
	})
	if err != nil {
		row.Outcome, row.Detail = OutcomeVerifyFailed, err.Error()
		if apperr.IsNetwork(err) {
			return row, err
		}
		s.logger.WarnContext(ctx, "Verification call failed", "error", err)
		return row, nil
	}
	if !ok {
		s.logger.WarnContext(ctx, "Verification rejected payment")
		row.Outcome, row.Detail = OutcomeVerifyFailed, "verification declined"
		return row, nil
	}

	updated, err := s.orders.ApplyReconciliation(ctx, paymentID, model.Reconciliation{
		ActualPrice:        values.ActualPrice,
		DiscountCode:       values.DiscountCode,
		DiscountPercentage: values.DiscountPercentage,
		DiscountAmount:     values.DiscountAmount,
		FinalAmount:        values.FinalAmount,
		ShippingPrice:      values.Shipping,
		Taxes:              values.Taxes,
		ReconciledAt:       s.now().UTC(),
	})
	if err != nil {
		row.Outcome, row.Detail = OutcomeStoreFailed, "verified but order update failed"
		return row, apperr.NewOrderStoreError("apply reconciliation", err)
	}
	if updated == 0 {
		s.logger.WarnContext(ctx, "Verified payment matched no order by transaction_id")
	}

	s.attempts.Remember(paymentID)
	row.Paid = true
	row.Outcome = OutcomeReconciled
	s.logger.InfoContext(ctx, "Reconciled payment", "ordersUpdated", updated)

	if err := s.verifier.Mark(ctx, meta.JobID, paymentID); err != nil {
		s.logger.DebugContext(ctx, "Best-effort mark failed", "error", err)
	}

	return row, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
