package config

import (
	"fmt"
	"medislot/pkg/client"
	"medislot/pkg/logger"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	RedisURL string

	Port string

	JWTSecret string
	JWTIssuer string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	DefaultTimezone               string
	SlotBufferMinutes             int
	DefaultConsultationMinutes    int
	RefundWindow                  time.Duration
	BookingLockTTL                time.Duration
	AllowUnrestrictedAvailability bool
	ObserverUserID                string

	PaymentProvider        string
	PaymentBaseURL         string
	PaymentSecretKey       string
	// PaymentWebhookSecret is Stripe's endpoint signing secret. Paystack signs
	// webhooks with PaymentSecretKey.
	PaymentWebhookSecret   string
	PaymentCallbackURL     string
	PaymentCurrency        string
	PaymentMinorUnitFactor int
	PaymentSuccessURL      string
	PaymentFailureURL      string
	GatewayTimeout         time.Duration

	VideoBaseURL string
	VideoAPIKey  string
	VideoTimeout time.Duration

	NotificationsTopic string
	SessionEventsTopic string
	SessionEventsGroup string
	SessionEventsDLQ   string

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		RedisURL: getEnvStr(EnvRedisURL, ""),

		Port: getEnvStr(EnvPort, DefaultPort),

		JWTSecret: getEnvStr(EnvJWTSecret, ""),
		JWTIssuer: getEnvStr(EnvJWTIssuer, ""),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		DefaultTimezone:               getEnvStr(EnvDefaultTimezone, DefaultDefaultTimezone),
		SlotBufferMinutes:             getEnvNum(EnvSlotBufferMinutes, DefaultSlotBufferMinutes),
		DefaultConsultationMinutes:    getEnvNum(EnvDefaultConsultationMinutes, DefaultDefaultConsultationMinutes),
		RefundWindow:                  getEnvDuration(EnvRefundWindow, DefaultRefundWindow),
		BookingLockTTL:                getEnvDuration(EnvBookingLockTTL, DefaultBookingLockTTL),
		AllowUnrestrictedAvailability: getEnvBool(EnvAllowUnrestrictedAvailability, false),
		ObserverUserID:                getEnvStr(EnvObserverUserID, DefaultObserverUserID),

		PaymentProvider:        strings.ToLower(getEnvStr(EnvPaymentProvider, DefaultPaymentProvider)),
		PaymentBaseURL:         getEnvStr(EnvPaymentBaseURL, DefaultPaymentBaseURL),
		PaymentSecretKey:       getEnvStr(EnvPaymentSecretKey, ""),
		PaymentWebhookSecret:   getEnvStr(EnvPaymentWebhookSecret, ""),
		PaymentCallbackURL:     getEnvStr(EnvPaymentCallbackURL, ""),
		PaymentCurrency:        strings.ToUpper(getEnvStr(EnvPaymentCurrency, DefaultPaymentCurrency)),
		PaymentMinorUnitFactor: getEnvNum(EnvPaymentMinorUnitFactor, DefaultPaymentMinorUnitFactor),
		PaymentSuccessURL:      getEnvStr(EnvPaymentSuccessURL, DefaultPaymentSuccessURL),
		PaymentFailureURL:      getEnvStr(EnvPaymentFailureURL, DefaultPaymentFailureURL),
		GatewayTimeout:         getEnvDuration(EnvGatewayTimeout, DefaultGatewayTimeout),

		VideoBaseURL: getEnvStr(EnvVideoBaseURL, ""),
		VideoAPIKey:  getEnvStr(EnvVideoAPIKey, ""),
		VideoTimeout: getEnvDuration(EnvVideoTimeout, DefaultVideoTimeout),

		NotificationsTopic: getEnvStr(EnvNotificationsTopic, DefaultNotificationsTopic),
		SessionEventsTopic: getEnvStr(EnvSessionEventsTopic, DefaultSessionEventsTopic),
		SessionEventsGroup: getEnvStr(EnvSessionEventsGroup, DefaultSessionEventsGroup),
		SessionEventsDLQ:   getEnvStr(EnvSessionEventsDLQ, DefaultSessionEventsDLQ),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	err := cfg.Validate()
	if err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

// SetRedis connects the shared Redis client when REDIS_URL is configured.
func (cfg *Config) SetRedis() {
	if cfg.RedisURL == "" {
		cfg.Log.Warn("REDIS_URL not set, falling back to in-memory idempotency store")
		return
	}
	cfg.Client.SetRedis(cfg.Log, cfg.RedisURL, cfg.MongoConnTimeout)
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errors = append(errors, "MongoURI cannot be empty")
	} else if len(cfg.MongoURI) < 10 || !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
	}
	if cfg.MongoDatabaseName == "" {
		errors = append(errors, "MongoDatabaseName cannot be empty")
	}
	if cfg.RedisURL != "" && !strings.HasPrefix(cfg.RedisURL, "redis://") && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		errors = append(errors, "RedisURL must start with 'redis://' or 'rediss://'")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"MongoConnTimeout", cfg.MongoConnTimeout},
		{"RateLimitWindow", cfg.RateLimitWindow},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"BookingLockTTL", cfg.BookingLockTTL},
		{"GatewayTimeout", cfg.GatewayTimeout},
		{"VideoTimeout", cfg.VideoTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", d.name, d.value))
		}
	}
	if cfg.RefundWindow < 0 {
		errors = append(errors, fmt.Sprintf("RefundWindow cannot be negative, got: %s", cfg.RefundWindow))
	}

	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("DefaultTimezone must be a valid IANA zone, got: %s", cfg.DefaultTimezone))
	}
	if cfg.SlotBufferMinutes < 0 || cfg.SlotBufferMinutes > 240 {
		errors = append(errors, fmt.Sprintf("SlotBufferMinutes must be between 0 and 240, got: %d", cfg.SlotBufferMinutes))
	}
	if cfg.DefaultConsultationMinutes < 5 || cfg.DefaultConsultationMinutes > 480 {
		errors = append(errors, fmt.Sprintf("DefaultConsultationMinutes must be between 5 and 480, got: %d", cfg.DefaultConsultationMinutes))
	}

	if cfg.PaymentProvider != PaymentProviderPaystack && cfg.PaymentProvider != PaymentProviderStripe {
		errors = append(errors, fmt.Sprintf("PaymentProvider must be '%s' or '%s', got: %s", PaymentProviderPaystack, PaymentProviderStripe, cfg.PaymentProvider))
	}
	if cfg.PaymentMinorUnitFactor <= 0 {
		errors = append(errors, fmt.Sprintf("PaymentMinorUnitFactor must be positive, got: %d", cfg.PaymentMinorUnitFactor))
	}
	if len(cfg.PaymentCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("PaymentCurrency must be an ISO 4217 code, got: %s", cfg.PaymentCurrency))
	}
	for name, raw := range map[string]string{
		"PaymentSuccessURL": cfg.PaymentSuccessURL,
		"PaymentFailureURL": cfg.PaymentFailureURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("%s must be an absolute URL, got: %s", name, raw))
		}
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"redis_set", cfg.RedisURL != "",
		"port", cfg.Port,
		"jwt_secret_set", cfg.JWTSecret != "",
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"default_timezone", cfg.DefaultTimezone,
		"slot_buffer_minutes", cfg.SlotBufferMinutes,
		"default_consultation_minutes", cfg.DefaultConsultationMinutes,
		"refund_window", cfg.RefundWindow,
		"allow_unrestricted_availability", cfg.AllowUnrestrictedAvailability,
		"payment_provider", cfg.PaymentProvider,
		"payment_secret_set", cfg.PaymentSecretKey != "",
		"payment_webhook_secret_set", cfg.PaymentWebhookSecret != "",
		"payment_currency", cfg.PaymentCurrency,
		"payment_minor_unit_factor", cfg.PaymentMinorUnitFactor,
		"gateway_timeout", cfg.GatewayTimeout,
		"video_base_url", cfg.VideoBaseURL,
		"notifications_topic", cfg.NotificationsTopic,
		"session_events_topic", cfg.SessionEventsTopic,
	)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	return max(0, offset)
}
