package fulfillment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingURL(t *testing.T) {
	assert.Equal(t, "https://parcelsapp.com/en/tracking/TRK123", TrackingURL(CloudprinterTrackingURL, "TRK123"))
	assert.Equal(t, "https://shiprocket.co/tracking/A+B%2F1", TrackingURL(ShiprocketTrackingURL, "A B/1"))
	assert.Empty(t, TrackingURL(ShiprocketTrackingURL, " "))
	assert.Empty(t, TrackingURL("", "TRK"))
}

func TestTrackingEvent_DedupeKey(t *testing.T) {
	id := 7
	ev := TrackingEvent{AWB: "AWB1", CurrentStatusID: &id, CurrentTimestamp: "01 05 2024 10:00:00"}

	sum := sha256.Sum256([]byte("AWB1|7|01 05 2024 10:00:00"))
	assert.Equal(t, hex.EncodeToString(sum[:]), ev.DedupeKey())

	noID := TrackingEvent{AWB: "AWB1", CurrentTimestamp: "01 05 2024 10:00:00"}
	sum = sha256.Sum256([]byte("AWB1||01 05 2024 10:00:00"))
	assert.Equal(t, hex.EncodeToString(sum[:]), noID.DedupeKey())

	other := ev
	other.CurrentTimestamp = "01 05 2024 11:00:00"
	assert.NotEqual(t, ev.DedupeKey(), other.DedupeKey())
}

func TestTrackingEvent_Delivered(t *testing.T) {
	tests := []struct {
		status    string
		delivered bool
	}{
		{"DELIVERED", true},
		{"delivered", true},
		{"RTO DELIVERED", true},
		{"OUT FOR DELIVERY", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.delivered, TrackingEvent{CurrentStatus: tt.status}.Delivered())
		})
	}
}

func TestTrackingEvent_Unmarshal(t *testing.T) {
	raw := `{"awb":"AWB1","courier_name":"Delhivery","current_status":"IN TRANSIT","current_status_id":18,
		"current_timestamp":"01 05 2024 10:00:00","order_id":"order-1",
		"scans":[{"date":"2024-05-01 09:00:00","activity":"Picked","sr-status":"42","sr-status-label":"PICKED UP"}]}`

	var ev TrackingEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, "AWB1", ev.AWB)
	require.NotNil(t, ev.CurrentStatusID)
	assert.Equal(t, 18, *ev.CurrentStatusID)
	require.Len(t, ev.Scans, 1)
	assert.Equal(t, "PICKED UP", ev.Scans[0].SRStatusLabel)
}

func TestParseTimestamp(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	ts, ok := ParseTimestamp("01 05 2024 10:00:00", kolkata)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 4, 30, 0, 0, time.UTC), ts.UTC())

	ts, ok = ParseTimestamp("2024-05-01T10:00:00Z", kolkata)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ts.UTC())

	_, ok = ParseTimestamp("yesterday", kolkata)
	assert.False(t, ok)
	_, ok = ParseTimestamp("", kolkata)
	assert.False(t, ok)
}

func TestEventSet_EvictsOldest(t *testing.T) {
	set := NewEventSet(3)
	for i := 0; i < 3; i++ {
		set.Add(fmt.Sprintf("k%d", i))
	}
	assert.True(t, set.Contains("k0"))

	set.Add("k1")
	set.Add("k3")

	assert.False(t, set.Contains("k0"))
	assert.True(t, set.Contains("k1"))
	assert.True(t, set.Contains("k2"))
	assert.True(t, set.Contains("k3"))
}
