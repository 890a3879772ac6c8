package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nemwellington/vendanozap/internal/config"
	"github.com/nemwellington/vendanozap/internal/database"
	"github.com/nemwellington/vendanozap/internal/handler"
	"github.com/nemwellington/vendanozap/internal/middleware"
	"github.com/nemwellington/vendanozap/internal/repository"
	"github.com/nemwellington/vendanozap/internal/service"
	"github.com/nemwellington/vendanozap/internal/upstream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg := config.Load()

	// Database
	db, err := database.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	ticketRepo := repository.NewTicketRepository(db)
	contactRepo := repository.NewContactRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	// Upstream channel broker
	publisher, err := upstream.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer publisher.Close()

	// Services
	throttle := service.NewThrottle(cfg.ThrottleInterval, cfg.ThrottleIdleReset, cfg.ThrottleQueueSize, cfg.ThrottleMaxDelay)
	wsHub := service.NewWSHub()
	access := service.NewAccessController(cfg.JWTSecret, cfg.AllowedOrigins)
	ticketSvc := service.NewTicketService(ticketRepo, contactRepo, settingsRepo, messageRepo, wsHub, publisher, throttle)
	reconciler := service.NewContactReconciler(cfg.SnapshotDir, contactRepo)
	callMonitor := service.NewCallMonitor(contactRepo, ticketSvc, settingsRepo, publisher, throttle)

	consumer, err := upstream.NewConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, contactRepo, ticketSvc, reconciler, callMonitor)
	if err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE",
		AllowCredentials: true,
	}))

	// Health
	healthH := handler.NewHealthHandler(db, publisher)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	// API v1
	v1 := app.Group("/api/v1")

	// Admin — registered BEFORE the protected group
	admin := v1.Group("/admin", middleware.AdminKey(cfg.AdminKey))
	adminH := handler.NewAdminHandler(wsHub, throttle)
	admin.Get("/stats", adminH.Stats)
	admin.Post("/announce", adminH.Announce)

	// JWT-protected routes
	protected := v1.Group("", middleware.Auth(cfg.JWTSecret))

	ticketH := handler.NewTicketHandler(ticketSvc)
	tickets := protected.Group("/tickets")
	tickets.Get("/", middleware.RateLimit(120, time.Minute), ticketH.List)
	tickets.Get("/:id", ticketH.Get)
	tickets.Get("/:id/messages", ticketH.Messages)
	tickets.Post("/:id/accept", ticketH.Accept)
	tickets.Post("/:id/transfer", ticketH.Transfer)
	tickets.Post("/:id/close", ticketH.Close)
	tickets.Post("/:id/reopen", ticketH.Reopen)

	// Realtime namespaces
	wsH := handler.NewWSHandler(wsHub, access, cfg.WSKeepAlive)
	app.Get("/ws/:namespace", wsH.Upgrade)

	// Background loops
	go wsHub.Run()
	go throttle.Run()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Run(consumerCtx); err != nil && consumerCtx.Err() == nil {
			log.Fatalf("Consumer error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("vendanozap backend running on :%s (%s)", cfg.Port, cfg.Env)

	<-quit
	log.Println("Shutting down...")
	stopConsumer()
	_ = consumer.Close()
	_ = app.ShutdownWithTimeout(5 * time.Second)
	wsHub.Shutdown()
	throttle.Shutdown()
	log.Println("Server stopped")
}
