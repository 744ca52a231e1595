package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"fulfillment-service/internal/config"
	"github.com/VictoriaMetrics/metrics"
)

// Setup starts pushing metrics when a push URL is configured.
func Setup(cfg config.Metrics, logger *slog.Logger) {
	if cfg.URL == "" {
		return
	}

	err := metrics.InitPush(cfg.URL, time.Duration(cfg.IntervalMs)*time.Millisecond, cfg.CommonLabels, true)
	if err != nil {
		logger.Error("Error initializing metrics push", "error", err)
	}
}

// Handler exposes metrics in Prometheus text format.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	}
}
