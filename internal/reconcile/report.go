package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeSkipped      Outcome = "SKIPPED"
	OutcomeFetchFailed  Outcome = "FETCH_FAILED"
	OutcomeVerifyFailed Outcome = "VERIFY_FAILED"
	OutcomeStoreFailed  Outcome = "STORE_FAILED"
	OutcomeReconciled   Outcome = "RECONCILED"
)

const placeholder = "—"

type ReportRow struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	CreatedAt     string  `json:"created_at"`
	AmountDisplay string  `json:"amount_display"`
	Paid          bool    `json:"paid"`
	PreviewURL    string  `json:"preview_url"`
	JobID         string  `json:"job_id"`
	Outcome       Outcome `json:"outcome"`
	Detail        string  `json:"detail,omitempty"`
}

func newRow(paymentID string) ReportRow {
	return ReportRow{
		ID:            paymentID,
		Email:         placeholder,
		CreatedAt:     placeholder,
		AmountDisplay: placeholder,
		JobID:         placeholder,
	}
}

type Report struct {
	RunID      string         `json:"run_id"`
	Window     Window         `json:"window"`
	Location   *time.Location `json:"-"`
	Discovery  Summary        `json:"summary"`
	Rows       []ReportRow    `json:"rows"`
	Aborted    bool           `json:"aborted"`
	AbortCause string         `json:"abort_cause,omitempty"`

	index map[string]int
}

// add keeps one row per payment id; a second row for the same id replaces the first.
func (r *Report) add(row ReportRow) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[row.ID]; ok {
		r.Rows[i] = row
		return
	}
	r.index[row.ID] = len(r.Rows)
	r.Rows = append(r.Rows, row)
}

func (r *Report) Verified() int {
	n := 0
	for _, row := range r.Rows {
		if row.Paid {
			n++
		}
	}
	return n
}

func (r *Report) Subject() string {
	subject := fmt.Sprintf("[Auto-Reconcile] NA payments: %d verified / %d found", r.Verified(), len(r.Rows))
	if r.Aborted {
		subject += " (aborted)"
	}
	return subject
}

func (r *Report) WindowLabel() string {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s -> %s (%s)",
		r.Window.From.In(loc).Format(time.RFC3339),
		r.Window.To.In(loc).Format(time.RFC3339),
		loc.String())
}

// FormatEpoch renders a gateway timestamp in loc, or a dash when absent.
func FormatEpoch(epoch int64, loc *time.Location) string {
	if epoch <= 0 {
		return placeholder
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(epoch, 0).In(loc).Format("2006-01-02 15:04:05 MST")
}

// FormatAmount renders minor units as e.g. "₹1,234.56", dropping a zero fraction.
func FormatAmount(minor int64, currency string) string {
	d := decimal.New(minor, -2)
	text := d.StringFixed(2)

	negative := strings.HasPrefix(text, "-")
	text = strings.TrimPrefix(text, "-")
	whole, frac, _ := strings.Cut(text, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteString("." + frac)
	}

	symbol := currencySymbol(currency)
	if negative {
		return "-" + symbol + b.String()
	}
	return symbol + b.String()
}

func currencySymbol(currency string) string {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "", "INR":
		return "₹"
	case "USD":
		return "$"
	default:
		return strings.ToUpper(currency) + " "
	}
}
