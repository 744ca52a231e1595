package main

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"time"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/model"
	"fulfillment-service/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	errorRate   = 0.5
	contentType = "application/json"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "verify-mock")
	m := &mock{secret: config.GetRequired("GATEWAY_KEY_SECRET"), logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.loggingMiddleware)
	r.Use(m.duplicateMiddleware)

	r.Post("/verify", m.verifyHandler)
	r.Post("/verify-delayed", m.verifyDelayedHandler)
	r.Post("/always-fail", alwaysFailHandler)
	r.Post("/random-fail", m.randomFailHandler)
	r.Post("/mark", markHandler)

	addr := ":" + strconv.Itoa(config.GetInt("VERIFY_MOCK_PORT", 8085))
	logger.Info("Verify mock listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("Verify mock stopped", "error", err)
		os.Exit(1)
	}
}

type mock struct {
	secret string
	logger *slog.Logger
}

func (m *mock) check(r *http.Request) (VerifyResponse, int) {
	var req model.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return VerifyResponse{Message: "invalid JSON body"}, http.StatusBadRequest
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return VerifyResponse{Message: "missing razorpay fields"}, http.StatusBadRequest
	}
	if !reconcile.VerifySignature(m.secret, req.OrderID, req.PaymentID, req.Signature) {
		return VerifyResponse{Message: "signature mismatch"}, http.StatusOK
	}
	return VerifyResponse{Success: true}, http.StatusOK
}

func (m *mock) verifyHandler(w http.ResponseWriter, r *http.Request) {
	resp, status := m.check(r)
	writeJSON(w, status, resp)
}

func (m *mock) verifyDelayedHandler(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(3+rand.IntN(6)) * time.Second)
	m.verifyHandler(w, r)
}

func (m *mock) randomFailHandler(w http.ResponseWriter, r *http.Request) {
	if rand.Float64() < errorRate {
		alwaysFailHandler(w, r)
		return
	}
	m.verifyHandler(w, r)
}

func alwaysFailHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
}

func markHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VerifyResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
