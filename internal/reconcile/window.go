package reconcile

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultLookback = 10 * time.Minute
	DefaultOffset   = 2 * time.Minute
)

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// SweepWindow returns [now-lookback, now-offset) in loc. The trailing offset
// gives settlement webhooks time to attach the payment to its order.
func SweepWindow(now time.Time, lookback, offset time.Duration, loc *time.Location) Window {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if offset < 0 {
		offset = DefaultOffset
	}
	if loc != nil {
		now = now.In(loc)
	}
	return Window{From: now.Add(-lookback), To: now.Add(-offset)}
}

// GatewayBounds converts the window to the gateway's inclusive epoch bounds.
func (w Window) GatewayBounds() (from, to int64) {
	from = w.From.Unix()
	to = w.To.Unix() - 1
	if to < from {
		to = from
	}
	return from, to
}

func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

var boundLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// ParseBound parses a date or timestamp. Values without a zone are read in
// loc; a date-only value means the start of that day, or its last second when
// endOfDay is set.
func ParseBound(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	if len(s) <= 10 {
		day, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parsing date %q", s)
		}
		if endOfDay {
			return day.Add(24*time.Hour - time.Second), nil
		}
		return day, nil
	}

	for _, layout := range boundLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported time %q", s)
}
