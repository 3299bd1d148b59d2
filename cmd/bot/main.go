package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interchat/internal/auth"
	"interchat/internal/broadcast"
	"interchat/internal/config"
	"interchat/internal/events"
	"interchat/internal/gateway"
	"interchat/internal/modlog"
	"interchat/internal/reporting"
	"interchat/internal/userphone"
	"interchat/pkg/logger"
	"interchat/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// webhookSendsPerSecond paces outbound webhook executes under the
// platform's global rate limit, shared across calls and broadcasts.
const webhookSendsPerSecond = 25

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	gw, err := gateway.NewDiscord(cfg.Discord.BotToken, webhookSendsPerSecond, logger.Component(log, "gateway"))
	if err != nil {
		log.Error("discord gateway init failed", "err", err)
		os.Exit(1)
	}

	// Event bus: in-process dispatcher, mirrored to AMQP when configured.
	dispatcher := events.NewDispatcher(logger.Component(log, "events"))
	if cfg.AMQP.URL != "" {
		pub, err := events.NewPublisher(rootCtx, events.ConnectionOptions{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
		}, logger.Component(log, "amqp"))
		if err != nil {
			log.Error("amqp publisher init failed", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		dispatcher.Register(pub.Handler())
	}

	// Call subsystem.
	queue := userphone.NewQueue()
	callCache := userphone.NewRedisCache(rdb, userphone.CacheTTLs{
		Webhook:     cfg.Userphone.WebhookTTL,
		Call:        cfg.Userphone.CallTTL,
		RecentMatch: cfg.Userphone.RecentMatchWindow,
	}, logger.Component(log, "cache"))
	callRepo := userphone.NewPostgresRepo(db)
	notifier := userphone.NewNotificationService(gw, logger.Component(log, "notify"))
	engine := userphone.NewEngine(queue, callCache, callRepo, notifier, dispatcher,
		cfg.Userphone.SweepInterval, logger.Component(log, "matching"))
	callManager := userphone.NewManager(queue, engine, callCache, callRepo, notifier, gw,
		dispatcher, cfg.Userphone.QueueTimeout, logger.Component(log, "calls"))

	engine.Start(rootCtx)
	defer engine.Stop()

	cleaner := userphone.NewCleaner(callRepo, cfg.Userphone.RetentionGrace,
		cfg.Userphone.SweepInterval, logger.Component(log, "retention"))
	go cleaner.Run(rootCtx)

	// Broadcast subsystem.
	modlogSvc := modlog.NewService(modlog.NewPostgresRepo(db), logger.Component(log, "modlog"))
	connStore := broadcast.NewPostgresConnections(db)
	mappingStore := broadcast.NewRedisMappings(rdb, cfg.Broadcast.MappingTTL)
	pipeline := broadcast.NewPipeline(connStore, mappingStore, gw, gw, modlogSvc,
		logger.Component(log, "broadcast"))
	throttle := broadcast.NewRedisThrottle(rdb, cfg.Broadcast.ReactionBurst, cfg.Broadcast.ReactionCooldown)
	reactions := broadcast.NewReactions(mappingStore, connStore, throttle, gw,
		cfg.Broadcast.MaxEmoji, logger.Component(log, "reactions"))

	reportSvc := reporting.NewService(callRepo)

	// Admin/health API.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW:    auth.RequireAccessToken(authManager),
		auth:      authManager,
		db:        db,
		rdb:       rdb,
		calls:     callManager,
		pipeline:  pipeline,
		reactions: reactions,
		modlog:    modlogSvc,
		reports:   reportSvc,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("admin api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
