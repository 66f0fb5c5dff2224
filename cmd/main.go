/**
 * @description
 * This is the main entry point for the donation-service. It loads configuration,
 * connects to PostgreSQL, applies migrations, wires the optional Redis velocity cache
 * and RabbitMQ event producer, builds the application service and the HTTP router, and
 * runs the maintenance scheduler until shutdown.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/redis/go-redis/v9: shared velocity cache.
 * - internal/api, internal/app, internal/config, internal/store: service packages.
 * - pkg/gatewayclient: payment gateway adapter.
 * - pkg/rabbitmq: donation lifecycle events.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fundbridge/donation-service/internal/api"
	"github.com/fundbridge/donation-service/internal/app"
	"github.com/fundbridge/donation-service/internal/config"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/fundbridge/donation-service/pkg/gatewayclient"
	rmrabbit "github.com/fundbridge/donation-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	log.Printf("level=info component=bootstrap msg=\"starting donation-service\" port=%s", cfg.ServerPort)

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database migrations applied\"")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Events are best-effort: a missing broker degrades to the no-op publisher.
	var publisher rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; donation events disabled\" env=RABBITMQ_URL")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer producer.Close()
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	gateway := gatewayclient.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret)
	if cfg.GatewayKeyID == "" || cfg.GatewayKeySecret == "" {
		log.Printf("level=warn component=bootstrap msg=\"payment gateway credentials incomplete; orders will be refused\" key_id_set=%t key_secret_set=%t", cfg.GatewayKeyID != "", cfg.GatewayKeySecret != "")
	}

	repository := store.NewPostgresRepository(dbpool)
	donationService := app.NewService(repository, gateway, publisher, app.SettingsFromConfig(cfg))

	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		ttl := time.Duration(cfg.VelocityMinIntervalSeconds)*time.Second + time.Minute
		donationService.SetVelocityCache(app.NewRedisLastDonationCache(redisClient, cfg.RedisVelocityPrefix, ttl))
	}

	jobLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(donationService, jobLogger, cfg.ReconcileBatchSize)
	scheduler := app.NewScheduler(jobs, jobLogger)
	if err := scheduler.Register(cfg.ReconcileSchedule, cfg.LedgerAuditSchedule); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler setup failed\" err=%v", err)
	}
	scheduler.Start()

	auth := api.NewAuthenticator(api.AuthConfig{
		JWKSURL:   cfg.JWKSURL,
		Audience:  cfg.JWTAudience,
		Issuer:    cfg.JWTIssuer,
		AdminRole: cfg.AdminRole,
	})
	handlers := api.NewDonationHandlers(donationService)
	router := api.DonationRoutes(handlers, auth, cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
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
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"jobs still running at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// connectRedis returns nil when Redis is not configured or unreachable; the velocity
// guard then reads the last donation time from the database only.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; velocity cache disabled\" env=REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; velocity cache disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; velocity cache disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
