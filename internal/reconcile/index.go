package reconcile

import (
	"strings"

	"fulfillment-service/internal/model"
)

// IndexEntry keeps the gateway's raw id next to its normalized status.
type IndexEntry struct {
	RawID  string
	Status string
}

// PaymentIndex maps a normalized payment id to its entry.
type PaymentIndex map[string]IndexEntry

// NormalizeKey replaces non-breaking spaces, trims, and optionally lowercases.
func NormalizeKey(s string, caseInsensitive bool) string {
	t := strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	if caseInsensitive {
		return strings.ToLower(t)
	}
	return t
}

// BuildPaymentIndex skips records without an id. A later record wins when two
// ids normalize to the same key.
func BuildPaymentIndex(payments []model.Payment, caseInsensitive bool) PaymentIndex {
	index := make(PaymentIndex, len(payments))
	for _, p := range payments {
		if p.ID == "" {
			continue
		}
		key := NormalizeKey(p.ID, caseInsensitive)
		if key == "" {
			continue
		}
		index[key] = IndexEntry{
			RawID:  p.ID,
			Status: strings.ToLower(strings.TrimSpace(p.Status)),
		}
	}
	return index
}
