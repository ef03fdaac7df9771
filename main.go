package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"nijichat/internal/api"
	"nijichat/internal/auth"
	"nijichat/internal/config"
	"nijichat/internal/redis"
	"nijichat/internal/service/messages"
	"nijichat/internal/storage"
)

func main() {
	_ = godotenv.Load(".env")

	cfgPath := os.Getenv("NIJICHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, closeLog := config.SetupLogger(cfg.BasicConfig.LogFile, config.ParseLevel(cfg.BasicConfig.LogLevel))
	defer closeLog()

	dbType := os.Getenv("NIJICHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := auth.NewEvents(rdb, logger)
	authService := auth.NewService(db, rdb, events, cfg.TokenTTL(), logger)
	authService.StartTokenSweeper(ctx, cfg.SweepInterval())
	handlers := api.NewHandler(authService, messages.NewService(db), logger)

	router := gin.Default()
	handlers.RegisterRoutes(router)
	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when the process is asked to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return events.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
