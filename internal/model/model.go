package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Notes holds the gateway's freeform key/value annotations. The gateway sends
// an empty JSON array instead of an object when a payment has no notes, and
// values are not always strings.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Notes{}
	switch v := raw.(type) {
	case map[string]interface{}:
		for key, value := range v {
			switch typed := value.(type) {
			case string:
				out[key] = typed
			case float64:
				out[key] = strconv.FormatFloat(typed, 'f', -1, 64)
			case bool:
				out[key] = strconv.FormatBool(typed)
			}
		}
	case []interface{}, nil:
	default:
		return fmt.Errorf("notes: unexpected JSON type %T", raw)
	}

	*n = out
	return nil
}

type Payment struct {
	ID          string `json:"id"`
	Entity      string `json:"entity,omitempty"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method,omitempty"`
	OrderID     string `json:"order_id"`
	Email       string `json:"email"`
	Contact     string `json:"contact"`
	Description string `json:"description"`
	Notes       Notes  `json:"notes"`
	CreatedAt   int64  `json:"created_at"`
}

type PaymentCollection struct {
	Entity string    `json:"entity"`
	Count  int       `json:"count"`
	Items  []Payment `json:"items"`
}

// TransactionRef is the projection used when scanning the order store.
type TransactionRef struct {
	ID            int64
	TransactionID *string
}

type Order struct {
	ID                  int64
	OrderID             string
	JobID               string
	TransactionID       *string
	Email               string
	UserName            string
	ChildName           string
	BookID              string
	BookStyle           string
	PreviewURL          string
	Paid                bool
	Reconcile           bool
	ActualPrice         *float64
	DiscountCode        *string
	DiscountPercentage  *float64
	DiscountAmount      *float64
	FinalAmount         *float64
	ShippingPrice       *float64
	Taxes               *float64
	ReconciledAt        *time.Time
	PrintStatus         string
	TrackingCode        string
	ShippingOption      string
	AWBCode             string
	CourierPartner      string
	DeliveryStatus      string
	ProductionEmailSent bool
	ShippedEmailSent    bool
	CreatedAt           time.Time
}

// Reconciliation is the set of columns written when a payment is verified.
// The fields are always written together.
type Reconciliation struct {
	ActualPrice        float64
	DiscountCode       string
	DiscountPercentage float64
	DiscountAmount     float64
	FinalAmount        float64
	ShippingPrice      float64
	Taxes              float64
	ReconciledAt       time.Time
}

// OrderListing is a paid order as shown in the back-office list.
type OrderListing struct {
	OrderID       string     `json:"order_id"`
	JobID         string     `json:"job_id"`
	PreviewURL    string     `json:"preview_url"`
	Name          string     `json:"name"`
	Price         *float64   `json:"price"`
	DiscountCode  string     `json:"discount_code"`
	Status        string     `json:"status"`
	BookID        string     `json:"book_id"`
	BookStyle     string     `json:"book_style"`
	PrintStatus   string     `json:"print_status"`
	PrintApproval *bool      `json:"print_approval"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at"`
	ApprovedAt    *time.Time `json:"approved_at"`
}

type NACandidate struct {
	PaymentID string `json:"id"`
	Status    string `json:"status"`
}

// PaymentQuery selects payments from the gateway. Zero bounds mean unbounded;
// an empty Status means every status.
type PaymentQuery struct {
	Status   string
	From     int64
	To       int64
	MaxFetch int
}

// VerificationRequest is posted to the verification endpoint. Prices are
// numbers on the wire; consumers parse them as such.
type VerificationRequest struct {
	OrderID            string  `json:"razorpay_order_id"`
	PaymentID          string  `json:"razorpay_payment_id"`
	Signature          string  `json:"razorpay_signature"`
	JobID              string  `json:"job_id"`
	ActualPrice        float64 `json:"actual_price"`
	DiscountCode       string  `json:"discount_code"`
	DiscountPercentage float64 `json:"discount_percentage"`
	DiscountAmount     float64 `json:"discount_amount"`
	FinalAmount        float64 `json:"final_amount"`
	ShippingPrice      float64 `json:"shipping_price"`
	Taxes              float64 `json:"taxes"`
	BookID             *string `json:"book_id"`
	BookStyle          *string `json:"book_style"`
}
