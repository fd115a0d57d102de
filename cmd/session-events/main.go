package main

import (
	"context"
	"errors"
	appointmentsrepo "medislot/internal/appointments/repository"
	appointmentsservice "medislot/internal/appointments/service"
	appointmentsvalidator "medislot/internal/appointments/validator"
	availabilityrepo "medislot/internal/availability/repository"
	availabilityservice "medislot/internal/availability/service"
	availabilityvalidator "medislot/internal/availability/validator"
	"medislot/internal/sessions"
	"medislot/pkg/config"
	"medislot/pkg/gateway"
	"medislot/pkg/identity"
	"medislot/pkg/kafka"
	kafka_config "medislot/pkg/kafka/config"
	kafkamw "medislot/pkg/kafka/middleware"
	"medislot/pkg/metrics"
	"medislot/pkg/notify"
	"medislot/pkg/video"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const WorkerName = "session-events"

func main() {
	cfg := config.Load(WorkerName)
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	kcfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}

	handler := sessions.NewEventHandler(initAppointments(cfg), cfg.Log)
	consumer, err := kafka.NewConsumer(kcfg, cfg.SessionEventsTopic, cfg.SessionEventsGroup, cfg.SessionEventsDLQ, handler.Handle, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create session events consumer", "error", err)
	}
	consumer.Use(kafkamw.LoggingConsumerMiddleware(cfg.Log))
	consumer.Use(kafkamw.MetricsConsumerMiddleware(metrics.NewKafkaMetrics(nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Log.Info("Consuming session events",
		"topic", cfg.SessionEventsTopic,
		"group", cfg.SessionEventsGroup,
		"dlq", cfg.SessionEventsDLQ,
	)
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cfg.Log.Error("Session events consumer stopped", "error", err)
	}

	if err := consumer.Close(); err != nil {
		cfg.Log.Error("Failed to close session events consumer", "error", err)
	}
	cfg.Log.Info("Session events worker stopped")
}

// initAppointments builds the lifecycle service. Session transitions never
// notify anyone, so notifications are only logged here.
func initAppointments(cfg *config.Config) appointmentsservice.AppointmentService {
	directory := identity.NewMongoDirectory(cfg)
	gw, err := gateway.New(cfg, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to initialize payment gateway", "error", err)
	}

	rules := availabilityservice.NewAvailabilityService(
		availabilityrepo.NewMongoAvailabilityRepository(cfg),
		directory,
		availabilityvalidator.NewAvailabilityValidator(cfg.Log),
		cfg,
	)

	return appointmentsservice.NewAppointmentService(
		appointmentsrepo.NewMongoAppointmentRepository(cfg),
		appointmentsrepo.NewBookingLockRepository(cfg),
		rules,
		directory,
		gw,
		video.NewProvisioner(cfg.VideoBaseURL, cfg.VideoAPIKey, cfg.VideoTimeout),
		notify.NewDispatcher(notify.NewLogNotifier(cfg.Log), 5*time.Second, cfg.Log),
		metrics.NewSchedulingMetrics(nil),
		appointmentsvalidator.NewBookingValidator(cfg.Log),
		cfg,
	)
}
