/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/sirupsen/logrus: Structured logging for the application service.
 * - internal/api, internal/app, internal/config, internal/jobs, internal/store: Internal packages for the service.
 * - pkg/mailclient: Client for the platform mail service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fitsched/billing-service/internal/api"
	"github.com/fitsched/billing-service/internal/app"
	"github.com/fitsched/billing-service/internal/config"
	"github.com/fitsched/billing-service/internal/jobs"
	"github.com/fitsched/billing-service/internal/store"
	"github.com/fitsched/billing-service/pkg/mailclient"
	rmrabbit "github.com/fitsched/billing-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish billing events.
	var rabbitProducer rmrabbit.Publisher
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		rabbitProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer producer.Close()
		rabbitProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the mail service client. A missing mail service should not
	// prevent the billing engine from booting; invoices then stay in DRAFT
	// until the sweep can deliver them.
	var mailer app.InvoiceSender
	if strings.TrimSpace(cfg.MailServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"mail service not configured; invoice emails disabled\" env=MAIL_SERVICE_URL")
	} else {
		mailer = mailclient.NewClient(cfg.MailServiceURL, cfg.MailServiceAPIKey)
	}

	var redisClient *redis.Client
	rateLimitingEnabled := cfg.CreditRateLimitPerMinute > 0 || cfg.InvoiceRateLimitPerMin > 0
	if rateLimitingEnabled {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; endpoint rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; endpoint rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; endpoint rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	billingService := app.NewService(repository, mailer, rabbitProducer, logger)

	var rateLimiter *app.RedisBillingRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisBillingRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers.
	billingHandlers := api.NewBillingHandlers(billingService, rateLimiter, cfg.CreditRateLimitPerMinute, cfg.InvoiceRateLimitPerMin)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/billing", api.BillingRoutes(billingHandlers, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the scheduler event consumer: bind appointment lifecycle events
	// and ensure graceful shutdown.
	schedulerConsumer := app.NewSchedulerEventConsumer(billingService, logger)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	appointmentBindings := map[string]func([]byte) bool{
		"appointment.completed": schedulerConsumer.HandleAppointmentCompleted,
		"appointment.created":   schedulerConsumer.HandleAppointmentScheduled,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.AppointmentExchange, cfg.AppointmentEventQueue, appointmentBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"appointment consumer start failed\" err=%v", err)
	}

	// Start the draft invoice sweep.
	scheduler := jobs.NewScheduler(billingService, logger)
	if err := scheduler.Start(cfg.DraftRetryCronSpec); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"draft sweep schedule failed\" spec=%q err=%v", cfg.DraftRetryCronSpec, err)
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
