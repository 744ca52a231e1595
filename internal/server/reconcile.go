package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/reconcile"
	"github.com/pkg/errors"
)

const (
	minOrdersBatchSize = 1_000
	maxOrdersBatchSize = 200_000
)

type signRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
}

type signResponse struct {
	Signature string `json:"razorpay_signature"`
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.PaymentID) == "" {
		writeError(w, http.StatusBadRequest, "razorpay_order_id and razorpay_payment_id are required")
		return
	}
	writeJSON(w, http.StatusOK, signResponse{Signature: reconcile.Sign(h.signingSecret, req.OrderID, req.PaymentID)})
}

type notAttachedResponse struct {
	Summary      reconcile.Summary `json:"summary"`
	DateWindow   *dateWindow       `json:"date_window,omitempty"`
	NAPaymentIDs []string          `json:"na_payment_ids"`
}

type dateWindow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// notAttached lists gateway payments no order references. Without bounds it
// covers all time; a date-only to_date includes that whole day.
func (h *Handler) notAttached(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := h.reconciler.Location()

	window, err := parseWindow(q.Get("from_date"), q.Get("to_date"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := h.reconciler.DiscoverParams(window)
	p.PaymentStatus = strings.TrimSpace(q.Get("status"))
	if v := q.Get("na_status"); v != "" {
		p.NAStatus = v
	}
	if v := q.Get("max_fetch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > reconcile.MaxMaxFetch {
			writeError(w, http.StatusBadRequest, "max_fetch must be between 1 and 1000000")
			return
		}
		p.MaxFetch = n
	}
	if v := q.Get("orders_batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minOrdersBatchSize || n > maxOrdersBatchSize {
			writeError(w, http.StatusBadRequest, "orders_batch_size must be between 1000 and 200000")
			return
		}
		p.OrdersPageSize = n
	}
	if v := q.Get("case_insensitive_ids"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "case_insensitive_ids must be a boolean")
			return
		}
		p.CaseInsensitiveIDs = b
	}

	discovery, err := h.reconciler.DiscoverWith(r.Context(), p)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "NA discovery failed", "error", err)
		writeUpstreamError(w, err)
		return
	}

	resp := notAttachedResponse{Summary: discovery.Summary, NAPaymentIDs: discovery.PaymentIDs()}
	if !window.IsZero() {
		resp.DateWindow = &dateWindow{
			From: window.From.In(loc).Format(time.RFC3339),
			To:   window.To.In(loc).Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseWindow turns inclusive request bounds into a half-open window. A
// missing bound is open-ended.
func parseWindow(from, to string, loc *time.Location) (reconcile.Window, error) {
	start, err := reconcile.ParseBound(from, loc, false)
	if err != nil {
		return reconcile.Window{}, errors.Wrap(err, "from_date")
	}
	end, err := reconcile.ParseBound(to, loc, true)
	if err != nil {
		return reconcile.Window{}, errors.Wrap(err, "to_date")
	}
	if start.IsZero() && end.IsZero() {
		return reconcile.Window{}, nil
	}
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	if end.IsZero() {
		end = time.Now()
	}
	if end.Before(start) {
		return reconcile.Window{}, errors.New("to_date is before from_date")
	}
	return reconcile.Window{From: start, To: end.Add(time.Second)}, nil
}

type detailsRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) paymentDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "body must contain 'ids' as a non-empty list of strings")
		return
	}

	details, err := h.reconciler.PaymentDetails(r.Context(), req.IDs)
	if errors.Is(err, reconcile.ErrTooManyIDs) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Payment details failed", "error", err)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	report, ran, err := h.sweeps.RunOnce(r.Context())
	if !ran && err == nil {
		writeError(w, http.StatusConflict, "a sweep is already running")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Manual sweep failed", "error", err)
		if report == nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsHTTP(err), apperr.IsNetwork(err), apperr.IsOrderStore(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
