package reconcile

import (
	"context"
	"errors"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/model"
)

const (
	DefaultOrdersPageSize = 50_000
	MinOrdersPageSize     = 1_000
	MaxOrdersPageSize     = 200_000
)

// OrderPager returns orders with id greater than afterID in ascending id order.
type OrderPager interface {
	TransactionPage(ctx context.Context, afterID int64, limit int) ([]model.TransactionRef, error)
}

type ScanStats struct {
	OrdersScanned         int `json:"total_orders_docs_scanned"`
	OrdersWithTransaction int `json:"orders_with_transaction_id"`
	Pages                 int `json:"pages"`
}

var errCursorNotIncreasing = errors.New("order ids are not strictly increasing")

// ScanTransactionKeys walks the whole order store with a strictly increasing
// id cursor and collects normalized transaction ids. A failed page aborts the
// scan: matching against a partial set would report paid orders as NA.
func ScanTransactionKeys(ctx context.Context, pager OrderPager, pageSize int, caseInsensitive bool) (map[string]struct{}, ScanStats, error) {
	pageSize = clampPageSize(pageSize)

	keys := make(map[string]struct{})
	var stats ScanStats
	var lastID int64

	for {
		page, err := pager.TransactionPage(ctx, lastID, pageSize)
		if err != nil {
			return nil, stats, apperr.NewOrderStoreError("scan transactions", err)
		}
		if len(page) == 0 {
			break
		}
		stats.Pages++
		stats.OrdersScanned += len(page)

		for _, ref := range page {
			if ref.ID <= lastID {
				return nil, stats, &apperr.OrderStoreError{Op: "scan transactions", Err: errCursorNotIncreasing}
			}
			lastID = ref.ID

			if ref.TransactionID == nil {
				continue
			}
			key := NormalizeKey(*ref.TransactionID, caseInsensitive)
			if key == "" {
				continue
			}
			stats.OrdersWithTransaction++
			keys[key] = struct{}{}
		}

		if len(page) < pageSize {
			break
		}
	}

	return keys, stats, nil
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultOrdersPageSize
	case n > MaxOrdersPageSize:
		return MaxOrdersPageSize
	}
	return n
}
