package main

import (
	"context"
	"fmt"
	"log"
	"os"

	apirest "github.com/TotoB12/loco/api/rest"
	"github.com/TotoB12/loco/api/sse"
	apiws "github.com/TotoB12/loco/api/ws"
	"github.com/TotoB12/loco/audit"
	"github.com/TotoB12/loco/cache"
	"github.com/TotoB12/loco/config"
	dbadapter "github.com/TotoB12/loco/db"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/model"
	"github.com/TotoB12/loco/presence"
	"github.com/TotoB12/loco/scheduler"
	"github.com/TotoB12/loco/social"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Security.JWTSecret == "" {
		log.Fatal("security.jwt_secret must be set")
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.New(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Presence ----
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store := presence.NewStore(db, c, pubsub, cfg.Presence, logger)
	if err := store.Load(ctx); err != nil {
		log.Fatalf("presence load: %v", err)
	}
	if err := store.Start(ctx); err != nil {
		log.Fatalf("presence subscribe: %v", err)
	}

	// ---- Social ----
	socialSvc := social.New(db, store, logger)
	reconciler := social.NewReconciler(socialSvc, c, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	sched.AddTicker("graph_reconcile", cfg.Presence.ReconcileInterval, func() {
		reconciler.Run(ctx)
	})
	sched.AddTicker("outbox_pump", cfg.Presence.OutboxInterval, func() {
		store.PumpOutbox(ctx)
		mw.SetPendingSync(store.Outbox().Pending())
	})
	sched.AddTicker("online_sweep", cfg.Presence.OnlineTTL, func() {
		store.SweepOnline(ctx)
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), mw.Metrics())

	// One limiter shared by every route. It runs after Auth on the
	// authenticated groups so the bucket is keyed per user, not per NAT.
	limit := mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, store, cfg.Security)
	userH := apirest.NewUserHandler(store, socialSvc, auditSvc)
	socialH := apirest.NewSocialHandler(socialSvc, store, auditSvc)
	nearbyH := apirest.NewNearbyHandler(store)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", limit, authH.Register)
		authG.POST("/login", limit, authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), limit, authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), limit, authH.Refresh)

		meG := api.Group("/me")
		meG.Use(mw.Auth(cfg.Security, c), limit)
		meG.GET("", userH.Me)
		meG.PUT("/name", userH.Rename)
		meG.PUT("/location", userH.PublishLocation)
		meG.DELETE("", userH.DeleteAccount)

		friendsG := api.Group("/friends")
		friendsG.Use(mw.Auth(cfg.Security, c), limit)
		friendsG.GET("", socialH.ListFriends)
		friendsG.GET("/requests", socialH.ListRequests)
		friendsG.POST("/requests", socialH.SendRequest)
		friendsG.POST("/requests/cancel", socialH.CancelRequest)
		friendsG.POST("/requests/reject", socialH.RejectRequest)
		friendsG.POST("/requests/accept", socialH.AcceptRequest)
		friendsG.POST("/requests/toggle", socialH.ToggleRequest)
		friendsG.POST("/remove", socialH.Unfriend)

		api.GET("/nearby", mw.Auth(cfg.Security, c), limit, nearbyH.Nearby)
	}

	// ---- WebSocket ----
	wsH := apiws.NewHandler(c, store, cfg.Security, logger)
	r.GET("/ws", limit, wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(store, c, cfg.Security, logger)
	r.GET("/api/stream", limit, sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
