package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/code-Quester/SpeakSutra/internal/config"
	"github.com/code-Quester/SpeakSutra/internal/handlers"
	"github.com/code-Quester/SpeakSutra/internal/logger"
	"github.com/code-Quester/SpeakSutra/internal/metrics"
	authMiddleware "github.com/code-Quester/SpeakSutra/internal/middleware"
	"github.com/code-Quester/SpeakSutra/internal/services"
	"github.com/code-Quester/SpeakSutra/internal/tasks"
	"github.com/code-Quester/SpeakSutra/web"
)

func main() {
	cfg := config.MustLoad()
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.OpenDatabase(cfg.Database.URL, cfg.MigrateOnStart)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis is optional: without it enrollment answers are not cached and logout only
	// clears the cookie.
	var cache *services.RedisCache
	if cfg.Redis.URL != "" {
		cache, err = services.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			logger.Log.WithError(err).Warn("Redis unavailable, continuing without cache")
			cache = nil
		}
	}
	defer cache.Close()

	events := services.NewEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	enrollmentMetrics := metrics.NewEnrollmentMetrics(prometheus.DefaultRegisterer)

	emailService := services.NewEmailService(cfg.SMTP, cfg.Course)
	if !emailService.Configured() {
		logger.Log.Warn("SMTP not configured, enrollment emails will be skipped")
	}
	wahaService := services.NewWahaService(cfg.Waha)

	tasks.DefineTasks(tasks.GlobalRegistry)
	runner := tasks.NewRunner(&tasks.Env{
		DB:            db,
		Email:         emailService,
		Whatsapp:      wahaService,
		Course:        cfg.Course,
		OperatorEmail: cfg.SMTP.OperatorEmail,
		Metrics:       enrollmentMetrics,
	}, tasks.GlobalRegistry)

	gateway, err := services.NewGateway(cfg.Gateway)
	if err != nil {
		log.Fatalf("Failed to initialize payment gateway: %v", err)
	}
	logger.Log.WithField("gateway", gateway.Name()).Info("Payment gateway ready")

	enrollmentService, err := services.NewEnrollmentService(db, gateway, cfg.Course, cache, events, runner, enrollmentMetrics)
	if err != nil {
		log.Fatalf("Failed to initialize enrollment service: %v", err)
	}
	sessions := services.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL, enrollmentService, cache)

	// Firebase only guards the operator pages; the enrollment API works without it.
	var (
		operatorAuth authMiddleware.SessionVerifier
		firebaseAuth handlers.FirebaseAuth
	)
	authClient, err := services.InitFirebase(ctx, cfg.Firebase.CredentialsPath)
	if err != nil {
		logger.Log.WithError(err).Warn("Firebase initialization failed, operator pages are disabled")
	} else {
		operatorAuth = authClient
		firebaseAuth = authClient
	}

	renderer, err := web.NewTemplateRenderer()
	if err != nil {
		log.Fatalf("Failed to parse templates: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Renderer = renderer
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	router := &handlers.Router{
		Enrollment:      handlers.NewEnrollmentHandler(enrollmentService),
		Session:         handlers.NewSessionHandler(sessions, enrollmentService, cfg.Course, cfg.IsProduction()),
		Auth:            handlers.NewAuthHandler(firebaseAuth, cfg.Firebase, cfg.IsProduction()),
		Dashboard:       handlers.NewDashboardHandler(enrollmentService),
		Sessions:        sessions,
		OperatorAuth:    operatorAuth,
		OperatorEmails:  cfg.Firebase.OperatorEmails,
		DemoPaymentsAPI: cfg.Gateway.Provider == config.ProviderDemo,
	}
	router.Register(e)

	go func() {
		logger.Log.Infof("Server starting on port %s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server shutdown failed")
	}

	// In-flight notification dispatches finish before the process exits; anything
	// left undelivered stays active for the worker.
	runner.Wait()

	if err := enrollmentService.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close event publisher")
	}
}
