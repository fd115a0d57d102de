package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "medislot"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultPaginationLimit = 100

	DefaultDefaultTimezone            = "UTC"
	DefaultSlotBufferMinutes          = 15
	DefaultDefaultConsultationMinutes = 30
	DefaultRefundWindow               = 12 * time.Hour
	DefaultBookingLockTTL             = 10 * time.Second
	DefaultObserverUserID             = "observers"

	PaymentProviderPaystack = "paystack"
	PaymentProviderStripe   = "stripe"

	DefaultPaymentProvider        = PaymentProviderPaystack
	DefaultPaymentBaseURL         = "https://api.paystack.co"
	DefaultPaymentCurrency        = "NGN"
	DefaultPaymentMinorUnitFactor = 100
	DefaultPaymentSuccessURL      = "http://localhost:3000/appointments/payment/success"
	DefaultPaymentFailureURL      = "http://localhost:3000/appointments/payment/failed"
	DefaultGatewayTimeout         = 15 * time.Second

	DefaultVideoTimeout = 10 * time.Second

	DefaultNotificationsTopic = "medislot.notifications"
	DefaultSessionEventsTopic = "medislot.session-events"
	DefaultSessionEventsGroup = "medislot-session-events"
	DefaultSessionEventsDLQ   = "medislot.session-events.dlq"
)
