package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"fulfillment-service/internal/fulfillment"
	"fulfillment-service/internal/logcontext"
)

const (
	itemShipped = "ItemShipped"
	itemProduce = "ItemProduce"

	maxWebhookBody = 1 << 20
)

type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func resultResponse(res fulfillment.Result) statusResponse {
	switch {
	case res.Duplicate:
		return statusResponse{Status: "ok", Reason: "duplicate"}
	case !res.Updated:
		return statusResponse{Status: "ok", Reason: "order not found"}
	default:
		return statusResponse{Status: "ok"}
	}
}

func (h *Handler) cloudprinterShipped(w http.ResponseWriter, r *http.Request) {
	var ev fulfillment.ShipmentEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Type != itemShipped {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ignored"})
		return
	}
	if strings.TrimSpace(ev.OrderReference) == "" {
		writeError(w, http.StatusBadRequest, "order_reference is required")
		return
	}

	ctx := logcontext.AppendCtx(r.Context(), slog.String("orderId", ev.OrderReference))
	res, err := h.fulfillment.MarkShipped(ctx, ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to apply shipment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to apply shipment")
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

func (h *Handler) cloudprinterProduce(w http.ResponseWriter, r *http.Request) {
	var ev fulfillment.ProductionEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Type != itemProduce {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ignored"})
		return
	}
	if strings.TrimSpace(ev.OrderReference) == "" {
		writeError(w, http.StatusBadRequest, "order_reference is required")
		return
	}

	ctx := logcontext.AppendCtx(r.Context(), slog.String("orderId", ev.OrderReference))
	res, err := h.fulfillment.MarkInProduction(ctx, ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to apply production", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to apply production")
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}

// shiprocketTracking always answers 200 so the aggregator does not disable
// the webhook; failures are logged only.
func (h *Handler) shiprocketTracking(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to read tracking webhook", "error", err)
		writeJSON(w, http.StatusOK, statusResponse{Status: "ignored", Reason: "unreadable body"})
		return
	}

	var ev fulfillment.TrackingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.logger.WarnContext(r.Context(), "Tracking webhook is not JSON", "error", err)
		writeJSON(w, http.StatusOK, statusResponse{Status: "ignored", Reason: "invalid JSON"})
		return
	}

	ctx := logcontext.AppendCtx(r.Context(), slog.String("awb", ev.AWB))
	res, err := h.fulfillment.ApplyTracking(ctx, ev, raw)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to apply tracking update", "error", err)
		writeJSON(w, http.StatusOK, statusResponse{Status: "error"})
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(res))
}
