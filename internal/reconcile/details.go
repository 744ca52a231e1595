package reconcile

import (
	"context"
	"strconv"
	"strings"

	"fulfillment-service/internal/apperr"
	"github.com/pkg/errors"
)

const MaxDetailIDs = 2000

var ErrTooManyIDs = errors.Errorf("too many ids; max %d per request", MaxDetailIDs)

// PaymentDetail is a gateway payment joined with what the order store knows about its job.
type PaymentDetail struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	Contact       string `json:"contact,omitempty"`
	Status        string `json:"status,omitempty"`
	Method        string `json:"method,omitempty"`
	Currency      string `json:"currency,omitempty"`
	AmountDisplay string `json:"amount_display"`
	CreatedAt     string `json:"created_at"`
	OrderID       string `json:"order_id,omitempty"`
	Description   string `json:"description,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	Paid          *bool  `json:"paid,omitempty"`
	PreviewURL    string `json:"preview_url,omitempty"`
}

type DetailError struct {
	ID     string `json:"id"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type Details struct {
	Count  int             `json:"count"`
	Items  []PaymentDetail `json:"items"`
	Errors []DetailError   `json:"errors"`
}

// PaymentDetails looks up each id at the gateway. Per-id failures are listed
// in Errors; only an order store failure fails the call.
func (s *Sweeper) PaymentDetails(ctx context.Context, ids []string) (*Details, error) {
	var cleaned []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	cleaned = dedupe(cleaned)
	if len(cleaned) > MaxDetailIDs {
		return nil, ErrTooManyIDs
	}

	out := &Details{Items: []PaymentDetail{}, Errors: []DetailError{}}
	for _, id := range cleaned {
		payment, err := s.gateway.GetPayment(ctx, id)
		if err != nil {
			out.Errors = append(out.Errors, detailError(id, err))
			continue
		}

		meta := ExtractMetadata(*payment)
		detail := PaymentDetail{
			ID:            payment.ID,
			Email:         meta.Email,
			Contact:       payment.Contact,
			Status:        payment.Status,
			Method:        payment.Method,
			Currency:      payment.Currency,
			AmountDisplay: FormatAmount(payment.Amount, payment.Currency),
			CreatedAt:     FormatEpoch(payment.CreatedAt, s.opts.Location),
			OrderID:       payment.OrderID,
			Description:   payment.Description,
			JobID:         meta.JobID,
			PreviewURL:    meta.PreviewURL,
		}

		if meta.JobID != "" {
			order, err := s.orders.FindByJobID(ctx, meta.JobID)
			if err != nil {
				return nil, apperr.NewOrderStoreError("find by job_id", err)
			}
			if order != nil {
				paid := order.Paid
				detail.Paid = &paid
				if order.PreviewURL != "" {
					detail.PreviewURL = order.PreviewURL
				}
			}
		}
		out.Items = append(out.Items, detail)
	}
	out.Count = len(out.Items)
	return out, nil
}

func detailError(id string, err error) DetailError {
	var httpErr *apperr.UpstreamHTTPError
	switch {
	case apperr.IsNotFound(err):
		return DetailError{ID: id, Error: "not_found"}
	case errors.As(err, &httpErr):
		return DetailError{ID: id, Error: "http_" + strconv.Itoa(httpErr.StatusCode), Detail: httpErr.Body}
	case apperr.IsNetwork(err):
		return DetailError{ID: id, Error: "network", Detail: err.Error()}
	default:
		return DetailError{ID: id, Error: "invalid", Detail: err.Error()}
	}
}
