package reconcile

import (
	"context"
	"strings"

	"fulfillment-service/internal/model"
)

const (
	DefaultMaxFetch = 200_000
	MaxMaxFetch     = 1_000_000
)

type PaymentLister interface {
	FetchPayments(ctx context.Context, query model.PaymentQuery) ([]model.Payment, error)
}

type DiscoverParams struct {
	// PaymentStatus filters the gateway fetch; empty fetches all statuses.
	PaymentStatus      string
	NAStatus           string
	Window             Window
	MaxFetch           int
	OrdersPageSize     int
	CaseInsensitiveIDs bool
}

type Summary struct {
	ScanStats
	TotalPayments       int    `json:"total_payments_rows"`
	PaymentStatusFilter string `json:"payment_status_filter"`
	CaseInsensitiveIDs  bool   `json:"case_insensitive_ids"`
	MatchedDistinct     int    `json:"matched_distinct_payment_ids"`
	NACount             int    `json:"na_count"`
	NAStatusFilter      string `json:"na_status_filter"`
	MaxFetch            int    `json:"max_fetch"`
	OrdersPageSize      int    `json:"orders_batch_size"`
}

type Discovery struct {
	Summary    Summary             `json:"summary"`
	Candidates []model.NACandidate `json:"candidates"`
}

func (d *Discovery) PaymentIDs() []string {
	ids := make([]string, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		ids = append(ids, c.PaymentID)
	}
	return ids
}

// Discover finds payments in the window that no order references yet. Gateway
// errors are returned unchanged; a failed order scan is an OrderStoreError.
func Discover(ctx context.Context, lister PaymentLister, pager OrderPager, p DiscoverParams) (*Discovery, error) {
	maxFetch := p.MaxFetch
	if maxFetch <= 0 {
		maxFetch = DefaultMaxFetch
	}
	if maxFetch > MaxMaxFetch {
		maxFetch = MaxMaxFetch
	}

	query := model.PaymentQuery{Status: strings.TrimSpace(p.PaymentStatus), MaxFetch: maxFetch}
	if !p.Window.IsZero() {
		query.From, query.To = p.Window.GatewayBounds()
	}

	payments, err := lister.FetchPayments(ctx, query)
	if err != nil {
		return nil, err
	}
	index := BuildPaymentIndex(payments, p.CaseInsensitiveIDs)

	txKeys, stats, err := ScanTransactionKeys(ctx, pager, p.OrdersPageSize, p.CaseInsensitiveIDs)
	if err != nil {
		return nil, err
	}

	matched := make(map[string]struct{})
	for key := range index {
		if _, ok := txKeys[key]; ok {
			matched[key] = struct{}{}
		}
	}

	naStatus := strings.ToLower(strings.TrimSpace(p.NAStatus))
	if naStatus == "" {
		naStatus = DefaultNAStatus
	}
	candidates := ResolveNA(index, matched, naStatus)

	statusFilter := query.Status
	if statusFilter == "" {
		statusFilter = "(ALL)"
	}

	return &Discovery{
		Summary: Summary{
			ScanStats:           stats,
			TotalPayments:       len(payments),
			PaymentStatusFilter: statusFilter,
			CaseInsensitiveIDs:  p.CaseInsensitiveIDs,
			MatchedDistinct:     len(matched),
			NACount:             len(candidates),
			NAStatusFilter:      naStatus,
			MaxFetch:            maxFetch,
			OrdersPageSize:      clampPageSize(p.OrdersPageSize),
		},
		Candidates: candidates,
	}, nil
}
