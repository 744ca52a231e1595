package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.body.Write(b)
	return lrw.ResponseWriter.Write(b)
}

func (m *mock) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.logger.Error("Error reading request body", "error", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		m.logger.Info("Request", "path", r.URL.Path, "body", string(body))

		lrw := &loggingResponseWriter{ResponseWriter: w, body: &bytes.Buffer{}}
		next.ServeHTTP(lrw, r)

		m.logger.Info("Response", "path", r.URL.Path, "body", lrw.body.String())
	})
}

var (
	mu       sync.Mutex
	verified = make(map[string]int)
)

// duplicateMiddleware logs every payment id verified more than once, which
// means two sweeps reconciled the same payment.
func (m *mock) duplicateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		var payload struct {
			PaymentID string `json:"razorpay_payment_id"`
		}
		if err := json.Unmarshal(body, &payload); err == nil && payload.PaymentID != "" && r.URL.Path != "/mark" {
			mu.Lock()
			verified[payload.PaymentID]++
			count := verified[payload.PaymentID]
			mu.Unlock()

			if count > 1 {
				m.logger.Warn("Duplicate verification", "paymentId", payload.PaymentID, "count", count)
			}
		}

		next.ServeHTTP(w, r)
	})
}
