package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("order_1|pay_1"))
	want := hex.EncodeToString(mac.Sum(nil))

	got := Sign("secret", "order_1", "pay_1")

	assert.Equal(t, want, got)
	assert.Len(t, got, 64)
	assert.True(t, VerifySignature("secret", "order_1", "pay_1", got))
	assert.False(t, VerifySignature("secret", "order_1", "pay_2", got))
	assert.False(t, VerifySignature("other", "order_1", "pay_1", got))
}

func TestAttemptCache(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cache := NewAttemptCache(10 * time.Minute)
	cache.now = func() time.Time { return now }

	assert.False(t, cache.Seen("pay_1"))
	cache.Remember("pay_1")
	assert.True(t, cache.Seen("pay_1"))

	now = now.Add(9 * time.Minute)
	assert.True(t, cache.Seen("pay_1"))

	now = now.Add(time.Minute)
	assert.False(t, cache.Seen("pay_1"))
	assert.Empty(t, cache.seen)
}

func TestAttemptCache_NilIsDisabled(t *testing.T) {
	var cache *AttemptCache
	cache.Remember("pay_1")
	assert.False(t, cache.Seen("pay_1"))
}
