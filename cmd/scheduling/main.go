package main

import (
	appointmentshandler "medislot/internal/appointments/handler"
	appointmentsrepo "medislot/internal/appointments/repository"
	appointmentsservice "medislot/internal/appointments/service"
	appointmentsvalidator "medislot/internal/appointments/validator"
	availabilityhandler "medislot/internal/availability/handler"
	availabilityrepo "medislot/internal/availability/repository"
	availabilityservice "medislot/internal/availability/service"
	availabilityvalidator "medislot/internal/availability/validator"
	paymentshandler "medislot/internal/payments/handler"
	paymentsservice "medislot/internal/payments/service"
	"medislot/pkg/app"
	"medislot/pkg/config"
	"medislot/pkg/contracts"
	"medislot/pkg/gateway"
	"medislot/pkg/identity"
	"medislot/pkg/kafka"
	kafka_config "medislot/pkg/kafka/config"
	kafkamw "medislot/pkg/kafka/middleware"
	"medislot/pkg/metrics"
	"medislot/pkg/notify"
	"medislot/pkg/video"
	"time"
)

const ServiceName = "scheduling"

const notificationTimeout = 5 * time.Second

type services struct {
	availability availabilityservice.AvailabilityService
	appointments appointmentsservice.AppointmentService
	payments     paymentsservice.PaymentService
	directory    identity.Directory
	gateway      gateway.Gateway
}

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()

	cfg.Log.Info("Starting Scheduling service")
	m := metrics.NewSchedulingMetrics(nil)

	notifier, closeNotifier := initNotifier(cfg)
	svc := initServices(cfg, m, notifier)

	serverApp := app.NewApplication(cfg, m)
	serverApp.SetApp(
		contracts.Handlers{
			availabilityhandler.NewAvailabilityHandler(svc.availability, cfg.Log),
			appointmentshandler.NewAppointmentHandler(svc.appointments, cfg.Log),
			paymentshandler.NewPaymentHandler(svc.payments, svc.gateway, cfg),
		},
		svc.directory,
		paymentshandler.PublicPathPrefix,
	)
	serverApp.OnShutdown(closeNotifier)
	serverApp.Run()
}

// initNotifier publishes notifications to Kafka. Without a usable broker
// configuration notifications are only logged.
func initNotifier(cfg *config.Config) (*notify.Dispatcher, func()) {
	kcfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Warn("Kafka not configured, notifications will only be logged", "error", err)
		return notify.NewDispatcher(notify.NewLogNotifier(cfg.Log), notificationTimeout, cfg.Log), func() {}
	}

	producer, err := kafka.NewProducer(kcfg, cfg.NotificationsTopic, kcfg.DLQTopic(cfg.NotificationsTopic), cfg.Log)
	if err != nil {
		cfg.Log.Warn("Failed to create notifications producer, notifications will only be logged", "error", err)
		return notify.NewDispatcher(notify.NewLogNotifier(cfg.Log), notificationTimeout, cfg.Log), func() {}
	}
	producer.Use(kafkamw.LoggingProducerMiddleware(cfg.Log))
	producer.Use(kafkamw.MetricsProducerMiddleware(metrics.NewKafkaMetrics(nil)))

	closeFn := func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close notifications producer", "error", err)
		}
	}
	return notify.NewDispatcher(notify.NewKafkaNotifier(producer, ServiceName), notificationTimeout, cfg.Log), closeFn
}

func initServices(cfg *config.Config, m *metrics.SchedulingMetrics, notifier *notify.Dispatcher) services {
	directory := identity.NewMongoDirectory(cfg)

	gw, err := gateway.New(cfg, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to initialize payment gateway", "error", err)
	}
	provisioner := video.NewProvisioner(cfg.VideoBaseURL, cfg.VideoAPIKey, cfg.VideoTimeout)

	availability := availabilityservice.NewAvailabilityService(
		availabilityrepo.NewMongoAvailabilityRepository(cfg),
		directory,
		availabilityvalidator.NewAvailabilityValidator(cfg.Log),
		cfg,
	)

	appointmentRepo := appointmentsrepo.NewMongoAppointmentRepository(cfg)
	appointments := appointmentsservice.NewAppointmentService(
		appointmentRepo,
		appointmentsrepo.NewBookingLockRepository(cfg),
		availability,
		directory,
		gw,
		provisioner,
		notifier,
		m,
		appointmentsvalidator.NewBookingValidator(cfg.Log),
		cfg,
	)

	payments := paymentsservice.NewPaymentService(
		appointmentRepo,
		appointments,
		directory,
		gw,
		notifier,
		m,
		cfg,
	)

	cfg.Log.Info("Scheduling services initialized",
		"database", cfg.MongoDatabaseName,
		"payment_provider", cfg.PaymentProvider,
	)
	return services{
		availability: availability,
		appointments: appointments,
		payments:     payments,
		directory:    directory,
		gateway:      gw,
	}
}
