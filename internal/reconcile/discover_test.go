package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePager struct {
	refs  []model.TransactionRef
	err   error
	calls int
}

func (f *fakePager) TransactionPage(_ context.Context, afterID int64, limit int) ([]model.TransactionRef, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var page []model.TransactionRef
	for _, ref := range f.refs {
		if ref.ID > afterID {
			page = append(page, ref)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

type fakeLister struct {
	payments []model.Payment
	err      error
	query    model.PaymentQuery
}

func (f *fakeLister) FetchPayments(_ context.Context, query model.PaymentQuery) ([]model.Payment, error) {
	f.query = query
	return f.payments, f.err
}

func refs(txIDs ...string) []model.TransactionRef {
	out := make([]model.TransactionRef, 0, len(txIDs))
	for i, tx := range txIDs {
		ref := model.TransactionRef{ID: int64(i + 1)}
		if tx != "" {
			tx := tx
			ref.TransactionID = &tx
		}
		out = append(out, ref)
	}
	return out
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "pay_A b", NormalizeKey("  pay_A b ", false))
	assert.Equal(t, "pay_a b", NormalizeKey("pay_A b", true))
	assert.Equal(t, "", NormalizeKey("   ", true))
}

func TestBuildPaymentIndex(t *testing.T) {
	index := BuildPaymentIndex([]model.Payment{
		{ID: "pay_A", Status: "Captured"},
		{ID: "", Status: "captured"},
		{ID: "pay_a", Status: "failed"},
	}, true)

	require.Len(t, index, 1)
	assert.Equal(t, IndexEntry{RawID: "pay_a", Status: "failed"}, index["pay_a"])

	index = BuildPaymentIndex([]model.Payment{{ID: "pay_A", Status: "Captured"}, {ID: "pay_a", Status: "failed"}}, false)
	assert.Len(t, index, 2)
	assert.Equal(t, "captured", index["pay_A"].Status)
}

func TestScanTransactionKeys(t *testing.T) {
	pager := &fakePager{refs: refs("pay_1", "", "PAY_2", " pay_3 ", "pay_4")}

	keys, stats, err := ScanTransactionKeys(context.Background(), pager, 2, true)
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"pay_1": {}, "pay_2": {}, "pay_3": {}, "pay_4": {}}, keys)
	assert.Equal(t, ScanStats{OrdersScanned: 5, OrdersWithTransaction: 4, Pages: 3}, stats)
	assert.Equal(t, 3, pager.calls)
}

func TestScanTransactionKeys_ExactMultipleOfPageSize(t *testing.T) {
	pager := &fakePager{refs: refs("a", "b", "c", "d")}

	keys, stats, err := ScanTransactionKeys(context.Background(), pager, 2, false)
	require.NoError(t, err)

	assert.Len(t, keys, 4)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, pager.calls)
}

func TestScanTransactionKeys_PageErrorAborts(t *testing.T) {
	pager := &fakePager{err: errors.New("connection refused")}

	keys, _, err := ScanTransactionKeys(context.Background(), pager, 10, false)
	require.Error(t, err)
	assert.Nil(t, keys)
	assert.True(t, apperr.IsOrderStore(err))
}

type stuckPager struct{}

func (stuckPager) TransactionPage(context.Context, int64, int) ([]model.TransactionRef, error) {
	return []model.TransactionRef{{ID: 1}, {ID: 1}}, nil
}

func TestScanTransactionKeys_RejectsNonIncreasingCursor(t *testing.T) {
	_, _, err := ScanTransactionKeys(context.Background(), stuckPager{}, 2, false)
	require.Error(t, err)
	assert.True(t, apperr.IsOrderStore(err))
}

func TestResolveNA(t *testing.T) {
	index := PaymentIndex{
		"C": {RawID: "C", Status: "captured"},
		"A": {RawID: "A", Status: "captured"},
		"B": {RawID: "B", Status: "failed"},
	}
	matched := map[string]struct{}{"B": {}}

	got := ResolveNA(index, matched, "captured")

	assert.Equal(t, []model.NACandidate{
		{PaymentID: "A", Status: "captured"},
		{PaymentID: "C", Status: "captured"},
	}, got)
}

func TestResolveNA_FiltersStatus(t *testing.T) {
	index := PaymentIndex{
		"a": {RawID: "A", Status: "authorized"},
		"b": {RawID: "B", Status: "captured"},
	}

	assert.Equal(t, []model.NACandidate{{PaymentID: "A", Status: "authorized"}}, ResolveNA(index, nil, " Authorized "))
	assert.Equal(t, []model.NACandidate{{PaymentID: "B", Status: "captured"}}, ResolveNA(index, nil, ""))
}

func TestDiscover(t *testing.T) {
	lister := &fakeLister{payments: []model.Payment{
		{ID: "pay_A", Status: "captured"},
		{ID: "pay_B", Status: "captured"},
		{ID: "pay_C", Status: "failed"},
		{ID: "pay_D", Status: "captured"},
	}}
	pager := &fakePager{refs: refs("pay_b", "", "pay_X")}
	window := Window{
		From: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 1, 10, 8, 0, 0, time.UTC),
	}

	d, err := Discover(context.Background(), lister, pager, DiscoverParams{
		Window:             window,
		CaseInsensitiveIDs: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"pay_A", "pay_D"}, d.PaymentIDs())
	assert.Equal(t, window.From.Unix(), lister.query.From)
	assert.Equal(t, window.To.Unix()-1, lister.query.To)
	assert.Equal(t, DefaultMaxFetch, lister.query.MaxFetch)
	assert.Equal(t, "", lister.query.Status)

	assert.Equal(t, 4, d.Summary.TotalPayments)
	assert.Equal(t, 1, d.Summary.MatchedDistinct)
	assert.Equal(t, 2, d.Summary.NACount)
	assert.Equal(t, 3, d.Summary.OrdersScanned)
	assert.Equal(t, 2, d.Summary.OrdersWithTransaction)
	assert.Equal(t, "(ALL)", d.Summary.PaymentStatusFilter)
	assert.Equal(t, "captured", d.Summary.NAStatusFilter)
	assert.Equal(t, DefaultOrdersPageSize, d.Summary.OrdersPageSize)
}

func TestDiscover_CaseSensitiveMissesDifferentCase(t *testing.T) {
	lister := &fakeLister{payments: []model.Payment{{ID: "pay_B", Status: "captured"}}}
	pager := &fakePager{refs: refs("pay_b")}

	d, err := Discover(context.Background(), lister, pager, DiscoverParams{MaxFetch: 5_000_000})
	require.NoError(t, err)

	assert.Equal(t, []string{"pay_B"}, d.PaymentIDs())
	assert.Equal(t, MaxMaxFetch, lister.query.MaxFetch)
	assert.Zero(t, lister.query.From)
}

func TestDiscover_PropagatesFetchError(t *testing.T) {
	fetchErr := &apperr.UpstreamHTTPError{Service: "gateway", StatusCode: 401, Body: "unauthorized"}
	pager := &fakePager{}

	_, err := Discover(context.Background(), &fakeLister{err: fetchErr}, pager, DiscoverParams{})
	assert.Equal(t, fetchErr, err)
	assert.Zero(t, pager.calls)
}
