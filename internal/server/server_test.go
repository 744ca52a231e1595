package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/fulfillment"
	"fulfillment-service/internal/model"
	"fulfillment-service/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var ist = time.FixedZone("IST", 5*3600+1800)

type fakeReconciler struct {
	params      reconcile.DiscoverParams
	discovery   *reconcile.Discovery
	discoverErr error
	detailIDs   []string
	details     *reconcile.Details
	detailsErr  error
}

func (f *fakeReconciler) DiscoverParams(window reconcile.Window) reconcile.DiscoverParams {
	return reconcile.DiscoverParams{NAStatus: "captured", Window: window, MaxFetch: reconcile.DefaultMaxFetch}
}

func (f *fakeReconciler) DiscoverWith(_ context.Context, p reconcile.DiscoverParams) (*reconcile.Discovery, error) {
	f.params = p
	return f.discovery, f.discoverErr
}

func (f *fakeReconciler) PaymentDetails(_ context.Context, ids []string) (*reconcile.Details, error) {
	f.detailIDs = ids
	return f.details, f.detailsErr
}

func (f *fakeReconciler) Location() *time.Location { return ist }

type fakeSweeps struct {
	report *reconcile.Report
	ran    bool
	err    error
}

func (f *fakeSweeps) RunOnce(context.Context) (*reconcile.Report, bool, error) {
	return f.report, f.ran, f.err
}

type fakeFulfillment struct {
	production []fulfillment.ProductionEvent
	shipments  []fulfillment.ShipmentEvent
	tracking   []fulfillment.TrackingEvent
	raw        []byte
	result     fulfillment.Result
	err        error
}

func (f *fakeFulfillment) MarkInProduction(_ context.Context, ev fulfillment.ProductionEvent) (fulfillment.Result, error) {
	f.production = append(f.production, ev)
	return f.result, f.err
}

func (f *fakeFulfillment) MarkShipped(_ context.Context, ev fulfillment.ShipmentEvent) (fulfillment.Result, error) {
	f.shipments = append(f.shipments, ev)
	return f.result, f.err
}

func (f *fakeFulfillment) ApplyTracking(_ context.Context, ev fulfillment.TrackingEvent, raw []byte) (fulfillment.Result, error) {
	f.tracking = append(f.tracking, ev)
	f.raw = raw
	return f.result, f.err
}

type fakeOrders struct {
	filter  db.OrderFilter
	listing []model.OrderListing
	err     error
}

func (f *fakeOrders) List(_ context.Context, filter db.OrderFilter) ([]model.OrderListing, error) {
	f.filter = filter
	return f.listing, f.err
}

type fixture struct {
	reconciler  *fakeReconciler
	sweeps      *fakeSweeps
	fulfillment *fakeFulfillment
	orders      *fakeOrders
	router      http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		reconciler:  &fakeReconciler{},
		sweeps:      &fakeSweeps{},
		fulfillment: &fakeFulfillment{result: fulfillment.Result{Updated: true}},
		orders:      &fakeOrders{listing: []model.OrderListing{}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.router = NewRouter(NewHandler(f.reconciler, f.sweeps, f.fulfillment, f.orders, testSecret, logger))
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLiveness(t *testing.T) {
	rec := newFixture().do(http.MethodGet, "/liveness", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSign(t *testing.T) {
	rec := newFixture().do(http.MethodPost, "/reconcile/sign",
		`{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, reconcile.Sign(testSecret, "order_1", "pay_1"), body["razorpay_signature"])
	assert.True(t, reconcile.VerifySignature(testSecret, "order_1", "pay_1", body["razorpay_signature"].(string)))
}

func TestSign_MissingField(t *testing.T) {
	f := newFixture()

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/reconcile/sign", `{"razorpay_order_id":"order_1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/reconcile/sign", `not json`).Code)
}

func TestNotAttached(t *testing.T) {
	f := newFixture()
	f.reconciler.discovery = &reconcile.Discovery{
		Summary:    reconcile.Summary{TotalPayments: 3, NACount: 2},
		Candidates: []model.NACandidate{{PaymentID: "pay_a", Status: "captured"}, {PaymentID: "pay_b", Status: "captured"}},
	}

	rec := f.do(http.MethodGet,
		"/reconcile/na?from_date=2024-05-01&to_date=2024-05-01&status=captured&na_status=all&max_fetch=500&orders_batch_size=5000&case_insensitive_ids=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	p := f.reconciler.params
	assert.Equal(t, "captured", p.PaymentStatus)
	assert.Equal(t, "all", p.NAStatus)
	assert.Equal(t, 500, p.MaxFetch)
	assert.Equal(t, 5000, p.OrdersPageSize)
	assert.True(t, p.CaseInsensitiveIDs)
	assert.True(t, time.Date(2024, 5, 1, 0, 0, 0, 0, ist).Equal(p.Window.From))
	assert.True(t, time.Date(2024, 5, 2, 0, 0, 0, 0, ist).Equal(p.Window.To))

	body := decode(t, rec)
	assert.Equal(t, []interface{}{"pay_a", "pay_b"}, body["na_payment_ids"])
	assert.Equal(t, "2024-05-01T00:00:00+05:30", body["date_window"].(map[string]interface{})["from"])
}

func TestNotAttached_AllTime(t *testing.T) {
	f := newFixture()
	f.reconciler.discovery = &reconcile.Discovery{}

	rec := f.do(http.MethodGet, "/reconcile/na", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.reconciler.params.Window.IsZero())
	assert.Equal(t, reconcile.DefaultMaxFetch, f.reconciler.params.MaxFetch)
	_, hasWindow := decode(t, rec)["date_window"]
	assert.False(t, hasWindow)
}

func TestNotAttached_InvalidParams(t *testing.T) {
	f := newFixture()

	for _, q := range []string{
		"max_fetch=0",
		"max_fetch=1000001",
		"orders_batch_size=10",
		"case_insensitive_ids=maybe",
		"from_date=yesterday",
		"from_date=2024-05-02&to_date=2024-05-01",
	} {
		t.Run(q, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/reconcile/na?"+q, "").Code)
		})
	}
}

func TestNotAttached_UpstreamError(t *testing.T) {
	f := newFixture()
	f.reconciler.discoverErr = &apperr.UpstreamHTTPError{Service: "gateway", StatusCode: 401, Body: "unauthorized"}

	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/reconcile/na", "").Code)
}

func TestPaymentDetails(t *testing.T) {
	f := newFixture()
	f.reconciler.details = &reconcile.Details{
		Count:  1,
		Items:  []reconcile.PaymentDetail{{ID: "pay_1", AmountDisplay: "₹10.00"}},
		Errors: []reconcile.DetailError{{ID: "pay_2", Error: "not_found"}},
	}

	rec := f.do(http.MethodPost, "/reconcile/na/details", `{"ids":["pay_1","pay_2"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"pay_1", "pay_2"}, f.reconciler.detailIDs)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestPaymentDetails_BadRequests(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/reconcile/na/details", `{"ids":[]}`).Code)

	f.reconciler.detailsErr = reconcile.ErrTooManyIDs
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(http.MethodPost, "/reconcile/na/details", `{"ids":["a"]}`).Code)
}

func TestSweep(t *testing.T) {
	f := newFixture()
	f.sweeps.report = &reconcile.Report{RunID: "run-1"}
	f.sweeps.ran = true

	rec := f.do(http.MethodPost, "/reconcile/sweep", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", decode(t, rec)["run_id"])
}

func TestSweep_AlreadyRunning(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/reconcile/sweep", "").Code)
}

func TestSweep_FailedWithPartialReport(t *testing.T) {
	f := newFixture()
	f.sweeps.report = &reconcile.Report{RunID: "run-2", Aborted: true}
	f.sweeps.ran = true
	f.sweeps.err = apperr.NewOrderStoreError("apply reconciliation", errors.New("connection refused"))

	rec := f.do(http.MethodPost, "/reconcile/sweep", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "run-2", decode(t, rec)["run_id"])
}

func TestCloudprinterShipped(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/webhooks/cloudprinter",
		`{"type":"ItemShipped","order_reference":"ORD-1","tracking":"TRK 9","shipping_option":"DHL","datetime":"2024-05-01T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.fulfillment.shipments, 1)
	assert.Equal(t, "TRK 9", f.fulfillment.shipments[0].Tracking)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCloudprinterShipped_IgnoresOtherTypes(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/webhooks/cloudprinter", `{"type":"ItemValidated","order_reference":"ORD-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])
	assert.Empty(t, f.fulfillment.shipments)
}

func TestCloudprinterShipped_Errors(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/webhooks/cloudprinter", `{"type":"ItemShipped"}`).Code)

	f.fulfillment.err = apperr.NewOrderStoreError("update shipment", errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError,
		f.do(http.MethodPost, "/webhooks/cloudprinter", `{"type":"ItemShipped","order_reference":"ORD-1"}`).Code)
}

func TestCloudprinterProduce(t *testing.T) {
	f := newFixture()
	f.fulfillment.result = fulfillment.Result{}

	rec := f.do(http.MethodPost, "/webhooks/cloudprinter/produce",
		`{"type":"ItemProduce","order":"CP-1","item":"CP-1-1","order_reference":"ORD-1","item_reference":"ORD-1-1","datetime":"2024-05-01T10:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.fulfillment.production, 1)
	assert.Equal(t, "CP-1", f.fulfillment.production[0].Order)
	assert.Equal(t, "order not found", decode(t, rec)["reason"])
}

func TestShiprocketTracking(t *testing.T) {
	f := newFixture()
	payload := `{"awb":"AWB1","current_status":"DELIVERED","current_status_id":7,"current_timestamp":"01 05 2024 10:00:00","order_id":"ORD-1"}`

	rec := f.do(http.MethodPost, "/webhooks/shiprocket", payload)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.fulfillment.tracking, 1)
	assert.Equal(t, "AWB1", f.fulfillment.tracking[0].AWB)
	assert.JSONEq(t, payload, string(f.fulfillment.raw))
}

func TestShiprocketTracking_AlwaysOK(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/webhooks/shiprocket", "<xml/>")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	f.fulfillment.err = errors.New("db down")
	rec = f.do(http.MethodPost, "/webhooks/shiprocket", `{"awb":"AWB1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestListOrders_MapsQueryToFilter(t *testing.T) {
	f := newFixture()
	price := 1597.5
	f.orders.listing = []model.OrderListing{{OrderID: "o1", Status: "Approved", Price: &price}}

	rec := f.do(http.MethodGet, "/orders?filter_status=Approved&filter_book_style=paperback"+
		"&filter_print_approval=NOT_FOUND&filter_discount_code=special10&exclude_discount_code=summer5"+
		"&sort_by=price&sort_dir=DESC", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, db.OrderFilter{
		Status:              db.StatusApproved,
		BookStyle:           "paperback",
		PrintApproval:       db.PrintApprovalNotFound,
		DiscountCode:        "special10",
		ExcludeDiscountCode: "summer5",
		SortBy:              "price",
		SortDesc:            true,
	}, f.orders.filter)

	var listing []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, "o1", listing[0]["order_id"])
	assert.Equal(t, 1597.5, listing[0]["price"])
}

func TestListOrders_EmptyIsArray(t *testing.T) {
	rec := newFixture().do(http.MethodGet, "/orders", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListOrders_BadRequest(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/orders?sort_dir=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.orders.err = db.ErrInvalidFilter
	rec = f.do(http.MethodGet, "/orders?sort_by=secret", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders_StoreFailure(t *testing.T) {
	f := newFixture()
	f.orders.err = errors.New("db down")

	rec := f.do(http.MethodGet, "/orders", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to list orders", decode(t, rec)["error"])
}
