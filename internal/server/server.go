package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"fulfillment-service/internal/db"
	"fulfillment-service/internal/fulfillment"
	"fulfillment-service/internal/logcontext"
	"fulfillment-service/internal/metrics"
	"fulfillment-service/internal/model"
	"fulfillment-service/internal/reconcile"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Reconciler interface {
	DiscoverParams(window reconcile.Window) reconcile.DiscoverParams
	DiscoverWith(ctx context.Context, p reconcile.DiscoverParams) (*reconcile.Discovery, error)
	PaymentDetails(ctx context.Context, ids []string) (*reconcile.Details, error)
	Location() *time.Location
}

type SweepTrigger interface {
	RunOnce(ctx context.Context) (*reconcile.Report, bool, error)
}

type Fulfillment interface {
	MarkInProduction(ctx context.Context, ev fulfillment.ProductionEvent) (fulfillment.Result, error)
	MarkShipped(ctx context.Context, ev fulfillment.ShipmentEvent) (fulfillment.Result, error)
	ApplyTracking(ctx context.Context, ev fulfillment.TrackingEvent, raw []byte) (fulfillment.Result, error)
}

type OrderLister interface {
	List(ctx context.Context, f db.OrderFilter) ([]model.OrderListing, error)
}

type Handler struct {
	reconciler    Reconciler
	sweeps        SweepTrigger
	fulfillment   Fulfillment
	orders        OrderLister
	signingSecret string
	logger        *slog.Logger
}

func NewHandler(reconciler Reconciler, sweeps SweepTrigger, f Fulfillment, orders OrderLister, signingSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler:    reconciler,
		sweeps:        sweeps,
		fulfillment:   f,
		orders:        orders,
		signingSecret: signingSecret,
		logger:        logger,
	}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", metrics.Handler())

	r.Route("/reconcile", func(r chi.Router) {
		r.Post("/sign", h.sign)
		r.Get("/na", h.notAttached)
		r.Post("/na/details", h.paymentDetails)
		r.Post("/sweep", h.sweep)
	})

	r.Get("/orders", h.listOrders)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/cloudprinter", h.cloudprinterShipped)
		r.Post("/cloudprinter/produce", h.cloudprinterProduce)
		r.Post("/shiprocket", h.shiprocketTracking)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx := logcontext.AppendCtx(r.Context(), slog.String("requestId", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		elapsed := time.Since(startTime)
		vm.GetOrCreateHistogram(`http_request_duration_milliseconds{route="` + routePattern(r) + `"}`).
			Update(float64(elapsed.Milliseconds()))
		h.logger.DebugContext(ctx, "HTTP request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "durationMs", elapsed.Milliseconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
