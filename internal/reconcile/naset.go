package reconcile

import (
	"sort"
	"strings"

	"fulfillment-service/internal/model"
)

const DefaultNAStatus = "captured"

// ResolveNA returns the payments absent from matched whose status equals
// naStatus, sorted by raw payment id.
func ResolveNA(index PaymentIndex, matched map[string]struct{}, naStatus string) []model.NACandidate {
	target := strings.ToLower(strings.TrimSpace(naStatus))
	if target == "" {
		target = DefaultNAStatus
	}

	var out []model.NACandidate
	for key, entry := range index {
		if _, ok := matched[key]; ok {
			continue
		}
		if entry.Status != target {
			continue
		}
		out = append(out, model.NACandidate{PaymentID: entry.RawID, Status: target})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out
}
