package server

import (
	"net/http"
	"strings"

	"fulfillment-service/internal/db"
	"github.com/pkg/errors"
)

// listOrders serves the back-office listing of paid orders.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.OrderFilter{
		Status:              strings.ToLower(strings.TrimSpace(q.Get("filter_status"))),
		BookStyle:           strings.TrimSpace(q.Get("filter_book_style")),
		PrintApproval:       strings.ToLower(strings.TrimSpace(q.Get("filter_print_approval"))),
		DiscountCode:        q.Get("filter_discount_code"),
		ExcludeDiscountCode: q.Get("exclude_discount_code"),
		SortBy:              strings.TrimSpace(q.Get("sort_by")),
	}
	switch strings.ToLower(q.Get("sort_dir")) {
	case "", "asc":
	case "desc":
		filter.SortDesc = true
	default:
		writeError(w, http.StatusBadRequest, "sort_dir must be asc or desc")
		return
	}

	listing, err := h.orders.List(r.Context(), filter)
	if errors.Is(err, db.ErrInvalidFilter) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Order listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
