package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/tokens"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	logCloser := logging.Setup(logging.Config{File: cfg.LogFile, Level: cfg.LogLevel})
	defer logCloser.Close()
	logger := slog.Default()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURI)
	if err != nil {
		log.Fatalf("Invalid redis uri: %v", err)
	}
	rc, err := newRedis(cfg.RedisURI)
	if err != nil {
		log.Fatalf("Redis is unreachable: %v", err)
	}
	defer rc.Close()

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	asynqInspector := asynq.NewInspector(redisOpt)
	defer asynqInspector.Close()

	queueOpts := queue.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     cfg.Worker.Backoff,
		Retention:   cfg.Worker.Retention,
	}
	jobQueue := queue.NewClient(asynqClient, queueOpts)
	inspector := queue.NewInspector(asynqInspector)

	r2Service, err := service.NewR2Service(*cfg)
	if err != nil {
		log.Fatalf("Failed to configure media storage: %v", err)
	}
	registry := newRegistry(cfg)

	postRepo := repository.NewPostRepository(db)
	targetRepo := repository.NewPostTargetRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)

	accountService := service.NewAccountService(cfg.SecretKey, socialAccountRepo)
	statusService := service.NewStatusService(db, postRepo, targetRepo)
	platformService := service.NewPlatformService(socialAccountRepo)
	postService := service.NewPostService(db, postRepo, targetRepo, mediaAssetRepo, socialAccountRepo, postMediaRepo, r2Service, registry, jobQueue)

	tokenManager := tokens.NewManager(registry, tokens.NewRedisLocker(rc, "postflow:"))
	dispatcher := publisher.NewDispatcher(registry, accountService, statusService, r2Service, tokenManager, logger)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request failed", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(middleware.Metrics())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/targets", post.ListTargets)
	api.Post("/posts/requeue", post.Requeue)

	platform := handlers.NewPlatformHandler(platformService)
	api.Get("/accounts", platform.ListSocialAccounts)
	api.Post("/accounts/disconnect", platform.DisconnectSocialAccount)

	queueHandler := handlers.NewQueueHandler(inspector)
	api.Get("/queue/stats", queueHandler.Stats)
	api.Get("/queue/failed", queueHandler.FailedJobs)

	// cron jobs
	scheduler, err := job.NewScheduler(
		job.NewTokenRefreshJob(socialAccountRepo, accountService, tokenManager),
		job.NewRecoveryJob(postService),
		job.NewJanitorJob(inspector, cfg.Worker.CompletedKeep),
	)
	if err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// queue
	worker := queue.NewWorker(dispatcher, queueOpts)
	server := queue.NewServer(redisOpt, cfg.Worker.Concurrency, queueOpts, logger)
	if err := server.Start(queue.NewServeMux(worker)); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}
	slog.Info("publish worker started", "concurrency", cfg.Worker.Concurrency)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	slog.Info("server is running", "addr", cfg.ListenAddr)

	gracefulShutdown(app, server)
}

func newRedis(uri string) (*redis.Client, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rc := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

// gracefulShutdown stops accepting requests, then lets in-flight publish
// jobs finish before the deferred closers run.
func gracefulShutdown(app *fiber.App, server *asynq.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("shutting down server")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}
	server.Shutdown()

	slog.Info("server shutdown complete")
}
