package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"fulfillment-service/internal/db"
	"fulfillment-service/internal/reconcile"
)

// ReportMailer delivers sweep reports to the operations mailbox through the outbox.
type ReportMailer struct {
	outbox     Enqueuer
	q          db.DBTX
	recipients []string
	logger     *slog.Logger
}

func NewReportMailer(outbox Enqueuer, q db.DBTX, recipients []string, logger *slog.Logger) *ReportMailer {
	return &ReportMailer{
		outbox:     outbox,
		q:          q,
		recipients: cleanRecipients(recipients),
		logger:     logger,
	}
}

func (m *ReportMailer) Deliver(ctx context.Context, report *reconcile.Report) error {
	if len(m.recipients) == 0 {
		m.logger.WarnContext(ctx, "No report recipients configured, report not sent", "subject", report.Subject())
		return nil
	}

	id, err := m.outbox.Enqueue(ctx, m.q, Email{
		Kind:        KindReconcileReport,
		AggregateID: report.RunID,
		Recipients:  m.recipients,
		Subject:     report.Subject(),
		Body:        RenderReport(report),
	})
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Reconciliation report enqueued", "notificationId", id)
	return nil
}

// RenderReport formats the report as an aligned plain-text table.
func RenderReport(report *reconcile.Report) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Window: %s\n", report.WindowLabel())
	s := report.Discovery
	fmt.Fprintf(&buf, "Gateway payments: %d, matched: %d, NA: %d, verified: %d\n",
		s.TotalPayments, s.MatchedDistinct, s.NACount, report.Verified())
	if report.Aborted {
		fmt.Fprintf(&buf, "Sweep aborted: %s\n", report.AbortCause)
	}
	buf.WriteString("\n")

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join([]string{"id", "email", "created_at", "amount", "paid", "preview", "job_id", "outcome"}, "\t"))
	for _, row := range report.Rows {
		paid := "no"
		if row.Paid {
			paid = "yes"
		}
		preview := row.PreviewURL
		if preview == "" {
			preview = "—"
		}
		outcome := string(row.Outcome)
		if row.Detail != "" {
			outcome += " (" + row.Detail + ")"
		}
		fmt.Fprintln(w, strings.Join([]string{
			row.ID, row.Email, row.CreatedAt, row.AmountDisplay, paid, preview, row.JobID, outcome,
		}, "\t"))
	}
	w.Flush()

	return buf.String()
}
