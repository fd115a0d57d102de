package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvRedisURL = "REDIS_URL"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvJWTSecret = "JWT_SECRET"
	EnvJWTIssuer = "JWT_ISSUER"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvDefaultTimezone               = "DEFAULT_TIMEZONE"
	EnvSlotBufferMinutes             = "SLOT_BUFFER_MINUTES"
	EnvDefaultConsultationMinutes    = "DEFAULT_CONSULTATION_MINUTES"
	EnvRefundWindow                  = "REFUND_WINDOW"
	EnvBookingLockTTL                = "BOOKING_LOCK_TTL"
	EnvAllowUnrestrictedAvailability = "ALLOW_UNRESTRICTED_AVAILABILITY"
	EnvObserverUserID                = "OBSERVER_USER_ID"

	EnvPaymentProvider        = "PAYMENT_PROVIDER"
	EnvPaymentBaseURL         = "PAYMENT_BASE_URL"
	EnvPaymentSecretKey       = "PAYMENT_SECRET_KEY"
	EnvPaymentWebhookSecret   = "PAYMENT_WEBHOOK_SECRET"
	EnvPaymentCallbackURL     = "PAYMENT_CALLBACK_URL"
	EnvPaymentCurrency        = "PAYMENT_CURRENCY"
	EnvPaymentMinorUnitFactor = "PAYMENT_MINOR_UNIT_FACTOR"
	EnvPaymentSuccessURL      = "PAYMENT_SUCCESS_URL"
	EnvPaymentFailureURL      = "PAYMENT_FAILURE_URL"
	EnvGatewayTimeout         = "GATEWAY_TIMEOUT"

	EnvVideoBaseURL = "VIDEO_BASE_URL"
	EnvVideoAPIKey  = "VIDEO_API_KEY"
	EnvVideoTimeout = "VIDEO_TIMEOUT"

	EnvNotificationsTopic = "NOTIFICATIONS_TOPIC"
	EnvSessionEventsTopic = "SESSION_EVENTS_TOPIC"
	EnvSessionEventsGroup = "SESSION_EVENTS_GROUP"
	EnvSessionEventsDLQ   = "SESSION_EVENTS_DLQ"
)
