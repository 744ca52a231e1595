package fulfillment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	CloudprinterTrackingURL = "https://parcelsapp.com/en/tracking/{tracking}"
	ShiprocketTrackingURL   = "https://shiprocket.co/tracking/{tracking}"
)

// TrackingURL fills a provider template with the query-escaped tracking code.
func TrackingURL(template, tracking string) string {
	tracking = strings.TrimSpace(tracking)
	if template == "" || tracking == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{tracking}", url.QueryEscape(tracking))
}

// ProductionEvent is the print vendor's ItemProduce notification.
type ProductionEvent struct {
	Type           string `json:"type"`
	Order          string `json:"order"`
	Item           string `json:"item"`
	OrderReference string `json:"order_reference"`
	ItemReference  string `json:"item_reference"`
	Datetime       string `json:"datetime"`
}

// ShipmentEvent is the print vendor's ItemShipped notification.
type ShipmentEvent struct {
	Type           string `json:"type"`
	OrderReference string `json:"order_reference"`
	Order          string `json:"order,omitempty"`
	Item           string `json:"item,omitempty"`
	ItemReference  string `json:"item_reference,omitempty"`
	Tracking       string `json:"tracking"`
	ShippingOption string `json:"shipping_option"`
	Datetime       string `json:"datetime"`
}

type Scan struct {
	Date          string          `json:"date,omitempty"`
	Status        string          `json:"status,omitempty"`
	Activity      string          `json:"activity,omitempty"`
	Location      string          `json:"location,omitempty"`
	SRStatus      json.RawMessage `json:"sr-status,omitempty"`
	SRStatusLabel string          `json:"sr-status-label,omitempty"`
}

// TrackingEvent is a shipping aggregator status update.
type TrackingEvent struct {
	AWB              string `json:"awb"`
	CourierName      string `json:"courier_name"`
	CurrentStatus    string `json:"current_status"`
	CurrentStatusID  *int   `json:"current_status_id"`
	ShipmentStatus   string `json:"shipment_status"`
	CurrentTimestamp string `json:"current_timestamp"`
	OrderID          string `json:"order_id"`
	Scans            []Scan `json:"scans"`
}

// DedupeKey identifies a status update independent of redelivery.
func (e TrackingEvent) DedupeKey() string {
	statusID := ""
	if e.CurrentStatusID != nil && *e.CurrentStatusID != 0 {
		statusID = strconv.Itoa(*e.CurrentStatusID)
	}
	sum := sha256.Sum256([]byte(e.AWB + "|" + statusID + "|" + e.CurrentTimestamp))
	return hex.EncodeToString(sum[:])
}

func (e TrackingEvent) Delivered() bool {
	switch strings.ToUpper(strings.TrimSpace(e.CurrentStatus)) {
	case "DELIVERED", "RTO DELIVERED":
		return true
	}
	return false
}

var timestampLayouts = []string{"02 01 2006 15:04:05", time.RFC3339, "2006-01-02 15:04:05"}

// ParseTimestamp reads the aggregator's "dd mm yyyy hh:mm:ss" timestamps in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EventSet remembers the most recent keys up to a fixed capacity, evicting the oldest first.
type EventSet struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
	next  int
	size  int
}

func NewEventSet(size int) *EventSet {
	if size <= 0 {
		size = 10_000
	}
	return &EventSet{
		keys:  make(map[string]struct{}, size),
		order: make([]string, size),
		size:  size,
	}
}

func (s *EventSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *EventSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return
	}
	if old := s.order[s.next]; old != "" {
		delete(s.keys, old)
	}
	s.order[s.next] = key
	s.keys[key] = struct{}{}
	s.next = (s.next + 1) % s.size
}
