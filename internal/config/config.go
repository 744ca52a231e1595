package config

import (
	"log"
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	Notifications string `mapstructure:"notifications"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Gateway struct {
	BaseURL       string  `mapstructure:"base-url"`
	KeyID         string  `mapstructure:"key-id"`
	KeySecret     string  `mapstructure:"key-secret"`
	TimeoutMs     int     `mapstructure:"timeout-ms"`
	ListTimeoutMs int     `mapstructure:"list-timeout-ms"`
	RatePerSecond float64 `mapstructure:"rate-per-second"`
	Burst         int     `mapstructure:"burst"`
	MaxAttempts   int     `mapstructure:"max-attempts"`
	MaxBackoffMs  int     `mapstructure:"max-backoff-ms"`
}

type Verify struct {
	URL       string `mapstructure:"url"`
	MarkURL   string `mapstructure:"mark-url"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
}

type Reconcile struct {
	Status             string   `mapstructure:"status"`
	NAStatus           string   `mapstructure:"na-status"`
	LookbackMinutes    int      `mapstructure:"lookback-minutes"`
	OffsetMinutes      int      `mapstructure:"offset-minutes"`
	MaxFetch           int      `mapstructure:"max-fetch"`
	OrdersPageSize     int      `mapstructure:"orders-page-size"`
	CaseInsensitiveIDs bool     `mapstructure:"case-insensitive-ids"`
	IntervalMs         int      `mapstructure:"interval-ms"`
	Timezone           string   `mapstructure:"timezone"`
	ReportRecipients   []string `mapstructure:"report-recipients"`
	AttemptTTLMinutes  int      `mapstructure:"attempt-ttl-minutes"`
	CatalogPath        string   `mapstructure:"catalog-path"`
}

type NotifyProducer struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type NotifyMailer struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api-key"`
	From      string `mapstructure:"from"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
	Mock      bool   `mapstructure:"mock"`
}

type Notify struct {
	Producer            NotifyProducer `mapstructure:"producer"`
	Mailer              NotifyMailer   `mapstructure:"mailer"`
	MaxDeliveryAttempts int            `mapstructure:"max-delivery-attempts"`
	RescheduleDelayMs   int            `mapstructure:"reschedule-delay-ms"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database  Database  `mapstructure:"database"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Gateway   Gateway   `mapstructure:"gateway"`
	Verify    Verify    `mapstructure:"verify"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	Notify    Notify    `mapstructure:"notify"`
	Server    Server    `mapstructure:"server"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Logs      Logs      `mapstructure:"logs"`
}

var defaults = map[string]interface{}{
	"database.port":                         "5432",
	"database.ssl-mode":                     "disable",
	"kafka.broker.url":                      "localhost:9092",
	"kafka.topic.notifications":             "customer-notifications",
	"kafka.reader.group-id":                 "fulfillment-service",
	"kafka.writer.batch-size":               100,
	"kafka.writer.batch-timeout-ms":         100,
	"gateway.base-url":                      "https://api.razorpay.com",
	"gateway.key-id":                        "",
	"gateway.key-secret":                    "",
	"gateway.timeout-ms":                    20_000,
	"gateway.list-timeout-ms":               60_000,
	"gateway.rate-per-second":               5.0,
	"gateway.burst":                         5,
	"gateway.max-attempts":                  3,
	"gateway.max-backoff-ms":                6_000,
	"verify.url":                            "",
	"verify.mark-url":                       "",
	"verify.timeout-ms":                     30_000,
	"reconcile.status":                      "",
	"reconcile.na-status":                   "captured",
	"reconcile.lookback-minutes":            10,
	"reconcile.offset-minutes":              2,
	"reconcile.max-fetch":                   200_000,
	"reconcile.orders-page-size":            50_000,
	"reconcile.case-insensitive-ids":        false,
	"reconcile.interval-ms":                 300_000,
	"reconcile.timezone":                    "Asia/Kolkata",
	"reconcile.report-recipients":           []string{},
	"reconcile.attempt-ttl-minutes":         0,
	"reconcile.catalog-path":                "",
	"notify.producer.polling-interval-ms":   500,
	"notify.producer.fetch-size":            200,
	"notify.producer.reschedule-delay-ms":   10_000,
	"notify.producer.max-publish-attempts":  3,
	"notify.mailer.url":                     "",
	"notify.mailer.api-key":                 "",
	"notify.mailer.from":                    "",
	"notify.mailer.timeout-ms":              10_000,
	"notify.mailer.mock":                    false,
	"notify.max-delivery-attempts":          5,
	"notify.reschedule-delay-ms":            30_000,
	"server.port":                           "8080",
	"metrics.url":                           "",
	"metrics.interval-ms":                   10_000,
	"metrics.common-labels":                 "",
	"logs.url":                              "",
	"database.user":                         "",
	"database.password":                     "",
	"database.name":                         "",
	"database.host":                         "",
}

// LoadConfig reads config.yaml from path (if present) and applies environment
// overrides, e.g. GATEWAY_KEY_SECRET overrides gateway.key-secret.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return config
}

const (
	minOrdersPageSize = 1_000
	maxOrdersPageSize = 200_000
	maxMaxFetch       = 1_000_000
)

// Validate fails fast on missing credentials.
func (c *Config) Validate() error {
	required := []struct{ key, value string }{
		{"gateway.key-id", c.Gateway.KeyID},
		{"gateway.key-secret", c.Gateway.KeySecret},
		{"database.user", c.Database.User},
		{"database.host", c.Database.Host},
		{"database.name", c.Database.Name},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &apperr.ConfigError{Key: r.key}
		}
	}
	if n := c.Reconcile.OrdersPageSize; n < minOrdersPageSize || n > maxOrdersPageSize {
		return &apperr.ConfigError{Key: "reconcile.orders-page-size", Reason: "must be between 1000 and 200000"}
	}
	if n := c.Reconcile.MaxFetch; n < 1 || n > maxMaxFetch {
		return &apperr.ConfigError{Key: "reconcile.max-fetch", Reason: "must be between 1 and 1000000"}
	}
	if _, err := time.LoadLocation(c.Reconcile.Timezone); err != nil {
		return &apperr.ConfigError{Key: "reconcile.timezone", Reason: err.Error()}
	}
	return nil
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
