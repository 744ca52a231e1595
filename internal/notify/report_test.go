package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"fulfillment-service/internal/db"
	"fulfillment-service/internal/reconcile"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	emails []Email
	err    error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ db.DBTX, email Email) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.emails = append(f.emails, email)
	return uuid.New(), nil
}

func sampleReport() *reconcile.Report {
	return &reconcile.Report{
		RunID: "run-1",
		Window: reconcile.Window{
			From: time.Date(2024, 5, 1, 4, 20, 0, 0, time.UTC),
			To:   time.Date(2024, 5, 1, 4, 28, 0, 0, time.UTC),
		},
		Discovery: reconcile.Summary{TotalPayments: 12, MatchedDistinct: 10, NACount: 2},
		Rows: []reconcile.ReportRow{
			{
				ID: "pay_1", Email: "parent@example.com", CreatedAt: "2024-05-01 09:52:00 IST",
				AmountDisplay: "₹1,597.50", Paid: true, PreviewURL: "https://diffrun.com/preview/1",
				JobID: "job-1", Outcome: reconcile.OutcomeReconciled,
			},
			{
				ID: "pay_2", Email: "—", CreatedAt: "—", AmountDisplay: "—", JobID: "—",
				Outcome: reconcile.OutcomeFetchFailed, Detail: "gateway: status 500",
			},
		},
	}
}

func TestRenderReport(t *testing.T) {
	body := RenderReport(sampleReport())

	assert.Contains(t, body, "Window: 2024-05-01T04:20:00Z -> 2024-05-01T04:28:00Z (UTC)")
	assert.Contains(t, body, "Gateway payments: 12, matched: 10, NA: 2, verified: 1")
	assert.Contains(t, body, "id")
	assert.Contains(t, body, "outcome")
	assert.Contains(t, body, "₹1,597.50")
	assert.Contains(t, body, "RECONCILED")
	assert.Contains(t, body, "FETCH_FAILED (gateway: status 500)")
	assert.NotContains(t, body, "aborted")
}

func TestRenderReport_Aborted(t *testing.T) {
	report := sampleReport()
	report.Aborted = true
	report.AbortCause = "gateway unreachable"

	assert.Contains(t, RenderReport(report), "Sweep aborted: gateway unreachable")
}

func TestReportMailer_Deliver(t *testing.T) {
	outbox := &fakeEnqueuer{}
	mailer := NewReportMailer(outbox, nil, []string{"ops@example.com, finance@example.com"}, slog.Default())

	require.NoError(t, mailer.Deliver(context.Background(), sampleReport()))

	require.Len(t, outbox.emails, 1)
	email := outbox.emails[0]
	assert.Equal(t, KindReconcileReport, email.Kind)
	assert.Equal(t, "run-1", email.AggregateID)
	assert.Equal(t, []string{"ops@example.com", "finance@example.com"}, email.Recipients)
	assert.Equal(t, "[Auto-Reconcile] NA payments: 1 verified / 2 found", email.Subject)
	assert.Contains(t, email.Body, "pay_2")
}

func TestReportMailer_NoRecipients(t *testing.T) {
	outbox := &fakeEnqueuer{}
	mailer := NewReportMailer(outbox, nil, nil, slog.Default())

	assert.NoError(t, mailer.Deliver(context.Background(), sampleReport()))
	assert.Empty(t, outbox.emails)
}

func TestReportMailer_EnqueueError(t *testing.T) {
	outbox := &fakeEnqueuer{err: errors.New("db down")}
	mailer := NewReportMailer(outbox, nil, []string{"ops@example.com"}, slog.Default())

	assert.EqualError(t, mailer.Deliver(context.Background(), sampleReport()), "db down")
}
