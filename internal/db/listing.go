package db

import (
	"context"
	"strconv"
	"strings"

	"fulfillment-service/internal/model"
	"github.com/pkg/errors"
)

var ErrInvalidFilter = errors.New("invalid order filter")

// Approval and print-approval filter values.
const (
	StatusApproved = "approved"
	StatusUploaded = "uploaded"

	PrintApprovalYes      = "yes"
	PrintApprovalNo       = "no"
	PrintApprovalNotFound = "not_found"

	// NoDiscount as DiscountCode selects orders with no discount applied.
	NoDiscount = "none"
)

var sortColumns = map[string]string{
	"created_at":    "created_at",
	"order_id":      "order_id",
	"job_id":        "job_id",
	"name":          "user_name",
	"book_id":       "book_id",
	"book_style":    "book_style",
	"print_status":  "print_status",
	"discount_code": "discount_code",
	"price":         "final_amount",
	"paid_at":       "reconciled_at",
	"approved_at":   "approved_at",
}

// OrderFilter narrows the paid-order listing. Empty fields do not filter.
type OrderFilter struct {
	Status              string
	BookStyle           string
	PrintApproval       string
	DiscountCode        string
	ExcludeDiscountCode string
	SortBy              string
	SortDesc            bool
}

type clauses struct {
	conds []string
	args  []interface{}
}

func (w *clauses) add(cond string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (f OrderFilter) whereClauses() (*clauses, error) {
	w := &clauses{}
	w.add("paid")

	switch f.Status {
	case "":
	case StatusApproved:
		w.add("approved")
	case StatusUploaded:
		w.add("NOT approved")
	default:
		return nil, errors.Wrapf(ErrInvalidFilter, "status %q", f.Status)
	}

	if f.BookStyle != "" {
		w.add("book_style = ?", f.BookStyle)
	}

	switch f.PrintApproval {
	case "":
	case PrintApprovalYes:
		w.add("print_approval IS TRUE")
	case PrintApprovalNo:
		w.add("print_approval IS FALSE")
	case PrintApprovalNotFound:
		w.add("print_approval IS NULL")
	default:
		return nil, errors.Wrapf(ErrInvalidFilter, "print approval %q", f.PrintApproval)
	}

	switch code := strings.TrimSpace(f.DiscountCode); {
	case code == "":
	case strings.EqualFold(code, NoDiscount):
		w.add("COALESCE(discount_amount, 0) = 0")
	default:
		w.add("discount_code = ?", strings.ToUpper(code))
	}

	if code := strings.TrimSpace(f.ExcludeDiscountCode); code != "" {
		w.add("discount_code IS DISTINCT FROM ?", strings.ToUpper(code))
	}

	return w, nil
}

func (f OrderFilter) orderBy() (string, error) {
	key := f.SortBy
	if key == "" {
		key = "created_at"
	}
	column, ok := sortColumns[key]
	if !ok {
		return "", errors.Wrapf(ErrInvalidFilter, "sort field %q", f.SortBy)
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	return column + " " + dir + " NULLS LAST, id " + dir, nil
}

// List returns paid orders matching f. An unknown filter value or sort field
// wraps ErrInvalidFilter.
func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]model.OrderListing, error) {
	w, err := f.whereClauses()
	if err != nil {
		return nil, err
	}
	orderBy, err := f.orderBy()
	if err != nil {
		return nil, err
	}

	query := `SELECT order_id, COALESCE(job_id, ''), preview_url, user_name,
	                 COALESCE(final_amount, actual_price)::float8, COALESCE(discount_code, ''),
	                 approved, book_id, book_style, print_status, print_approval,
	                 created_at, reconciled_at, approved_at
	          FROM orders
	          WHERE ` + strings.Join(w.conds, " AND ") + `
	          ORDER BY ` + orderBy
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listing := []model.OrderListing{}
	for rows.Next() {
		var (
			o        model.OrderListing
			approved bool
		)
		if err := rows.Scan(&o.OrderID, &o.JobID, &o.PreviewURL, &o.Name, &o.Price, &o.DiscountCode,
			&approved, &o.BookID, &o.BookStyle, &o.PrintStatus, &o.PrintApproval,
			&o.CreatedAt, &o.PaidAt, &o.ApprovedAt); err != nil {
			return nil, err
		}
		o.Status = "Uploaded"
		if approved {
			o.Status = "Approved"
		}
		listing = append(listing, o)
	}
	return listing, rows.Err()
}
