package db

import (
	"context"
	"strconv"
	"time"

	"fulfillment-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const orderColumns = `id, order_id, COALESCE(job_id, ''), transaction_id, email, user_name, child_name,
	book_id, book_style, preview_url, paid, reconcile, actual_price::float8, discount_code,
	discount_percentage::float8, discount_amount::float8, final_amount::float8, shipping_price::float8,
	taxes::float8, reconciled_at, print_status, tracking_code, shipping_option, COALESCE(awb_code, ''),
	courier_partner, delivery_status, production_email_sent, shipped_email_sent, created_at`

// EmailFlag names a once-only notification column.
type EmailFlag string

const (
	ProductionEmailSent EmailFlag = "production_email_sent"
	ShippedEmailSent    EmailFlag = "shipped_email_sent"
)

// OrderRef selects an order by order id, or by AWB when the order id is unknown.
type OrderRef struct {
	OrderID string
	AWB     string
}

func (r OrderRef) where(firstArg int) (string, interface{}) {
	if r.OrderID != "" {
		return "order_id = $" + strconv.Itoa(firstArg), r.OrderID
	}
	return "awb_code = $" + strconv.Itoa(firstArg), r.AWB
}

type ProductionUpdate struct {
	StartedAt     string
	VendorOrderID string
	VendorItemID  string
	ItemReference string
}

type ShipmentUpdate struct {
	TrackingCode   string
	ShippingOption string
	ShippedAt      string
}

type TrackingUpdate struct {
	AWB         string
	Courier     string
	Status      string
	StatusID    *int
	Delivered   bool
	RawEvent    []byte
	ProcessedAt time.Time
}

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// TransactionPage returns (id, transaction_id) for orders with id > afterID in id order.
func (r *OrderRepository) TransactionPage(ctx context.Context, afterID int64, limit int) ([]model.TransactionRef, error) {
	query := `SELECT id, transaction_id FROM orders WHERE id > $1 ORDER BY id LIMIT $2`
	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]model.TransactionRef, 0, limit)
	for rows.Next() {
		var ref model.TransactionRef
		if err := rows.Scan(&ref.ID, &ref.TransactionID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// FindByJobID returns nil, nil when no order carries the job id.
func (r *OrderRepository) FindByJobID(ctx context.Context, jobID string) (*model.Order, error) {
	return r.findOne(ctx, r.pool, `SELECT `+orderColumns+` FROM orders WHERE job_id = $1 ORDER BY id LIMIT 1`, jobID)
}

func (r *OrderRepository) FindByOrderID(ctx context.Context, q DBTX, orderID string) (*model.Order, error) {
	return r.findOne(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
}

func (r *OrderRepository) FindByRef(ctx context.Context, q DBTX, ref OrderRef) (*model.Order, error) {
	where, arg := ref.where(1)
	return r.findOne(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY id LIMIT 1`, arg)
}

func (r *OrderRepository) findOne(ctx context.Context, q DBTX, query string, arg interface{}) (*model.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.OrderID, &o.JobID, &o.TransactionID, &o.Email, &o.UserName, &o.ChildName,
		&o.BookID, &o.BookStyle, &o.PreviewURL, &o.Paid, &o.Reconcile, &o.ActualPrice, &o.DiscountCode,
		&o.DiscountPercentage, &o.DiscountAmount, &o.FinalAmount, &o.ShippingPrice,
		&o.Taxes, &o.ReconciledAt, &o.PrintStatus, &o.TrackingCode, &o.ShippingOption, &o.AWBCode,
		&o.CourierPartner, &o.DeliveryStatus, &o.ProductionEmailSent, &o.ShippedEmailSent, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts an order placed by the storefront and returns its id.
func (r *OrderRepository) Create(ctx context.Context, o *model.Order) (int64, error) {
	query := `INSERT INTO orders (order_id, job_id, transaction_id, email, user_name, child_name,
	          book_id, book_style, preview_url, paid)
	          VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	err := r.pool.QueryRow(ctx, query, o.OrderID, o.JobID, o.TransactionID, o.Email, o.UserName, o.ChildName,
		o.BookID, o.BookStyle, o.PreviewURL, o.Paid).Scan(&o.ID)
	if err != nil {
		return 0, err
	}
	return o.ID, nil
}

// ApplyReconciliation overwrites every pricing column of the orders attached
// to paymentID in one statement. Repeating it with the same values leaves the
// rows unchanged apart from reconciled_at.
func (r *OrderRepository) ApplyReconciliation(ctx context.Context, paymentID string, rec model.Reconciliation) (int64, error) {
	query := `UPDATE orders SET
	              reconcile = TRUE,
	              reconciled_at = $2,
	              actual_price = $3,
	              discount_code = $4,
	              discount_percentage = $5,
	              discount_amount = $6,
	              final_amount = $7,
	              shipping_price = $8,
	              taxes = $9
	          WHERE transaction_id = $1`
	tag, err := r.pool.Exec(ctx, query, paymentID, rec.ReconciledAt, rec.ActualPrice, rec.DiscountCode,
		rec.DiscountPercentage, rec.DiscountAmount, rec.FinalAmount, rec.ShippingPrice, rec.Taxes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AttachTransaction links a verified payment to the order for jobID. Used by
// the verification endpoint stand-in.
func (r *OrderRepository) AttachTransaction(ctx context.Context, jobID, paymentID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET transaction_id = $2, paid = TRUE WHERE job_id = $1 AND transaction_id IS NULL`,
		jobID, paymentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *OrderRepository) UpdateProduction(ctx context.Context, q DBTX, orderID string, u ProductionUpdate) (bool, error) {
	query := `UPDATE orders SET
	              print_status = 'in_production',
	              production_started_at = $2,
	              vendor_order_id = $3,
	              vendor_item_id = $4,
	              vendor_item_reference = $5
	          WHERE order_id = $1`
	tag, err := q.Exec(ctx, query, orderID, u.StartedAt, u.VendorOrderID, u.VendorItemID, u.ItemReference)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *OrderRepository) UpdateShipment(ctx context.Context, q DBTX, orderID string, u ShipmentUpdate) (bool, error) {
	query := `UPDATE orders SET
	              print_status = 'shipped',
	              tracking_code = $2,
	              shipping_option = $3,
	              shipped_at = $4
	          WHERE order_id = $1`
	tag, err := q.Exec(ctx, query, orderID, u.TrackingCode, u.ShippingOption, u.ShippedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateTracking records the latest shipping aggregator status. delivery_status
// only moves when the event reports delivery.
func (r *OrderRepository) UpdateTracking(ctx context.Context, q DBTX, ref OrderRef, u TrackingUpdate) (bool, error) {
	where, arg := ref.where(1)
	query := `UPDATE orders SET
	              awb_code = COALESCE(NULLIF($2, ''), awb_code),
	              tracking_code = COALESCE(NULLIF($2, ''), tracking_code),
	              courier_partner = $3,
	              tracking_status = $4,
	              tracking_status_id = $5,
	              delivery_status = CASE WHEN $6 THEN 'shipped' ELSE delivery_status END,
	              tracking_raw = $7,
	              tracking_updated_at = $8
	          WHERE ` + where
	tag, err := q.Exec(ctx, query, arg, u.AWB, u.Courier, u.Status, u.StatusID, u.Delivered, u.RawEvent, u.ProcessedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimEmailFlag flips a once-only flag. It returns true only for the caller
// that flipped it.
func (r *OrderRepository) ClaimEmailFlag(ctx context.Context, q DBTX, ref OrderRef, flag EmailFlag) (bool, error) {
	switch flag {
	case ProductionEmailSent, ShippedEmailSent:
	default:
		return false, errors.Errorf("unknown email flag %q", flag)
	}

	where, arg := ref.where(1)
	query := `UPDATE orders SET ` + string(flag) + ` = TRUE WHERE ` + where + ` AND NOT ` + string(flag)
	tag, err := q.Exec(ctx, query, arg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
