package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callhub-backend/internal/config"
	intDatabase "callhub-backend/internal/database"
	callHandler "callhub-backend/internal/handler/http/call"
	linkHandler "callhub-backend/internal/handler/http/link"
	signalingHandler "callhub-backend/internal/handler/http/signaling"
	wsHandler "callhub-backend/internal/handler/ws"
	"callhub-backend/internal/middleware"
	"callhub-backend/internal/repository/cassandra"
	"callhub-backend/internal/repository/cockroach"
	redisRepo "callhub-backend/internal/repository/redis"
	"callhub-backend/internal/service/access"
	callService "callhub-backend/internal/service/call"
	linkService "callhub-backend/internal/service/link"
	"callhub-backend/internal/service/signaling"
	"callhub-backend/pkg/audit"
	"callhub-backend/pkg/constants"
	pkgDatabase "callhub-backend/pkg/database"
	"callhub-backend/pkg/fanout"
	"callhub-backend/pkg/jwt"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  cfg.Server.ServiceName,
	}); err != nil {
		logger.InitDefault()
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. JWT verification
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, constants.AccessTokenExpiry)

	// 2. CockroachDB
	db, err := pkgDatabase.ConnectCockroachWithRetry(ctx, cfg.Database.Cockroach(), cfg.Database.ConnectTries)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()

	if err := cockroach.Migrate(ctx, db.Pool); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}

	callRepo := cockroach.NewCallRepository(db.Pool)
	groupCallRepo := cockroach.NewGroupCallRepository(db.Pool)
	conversationRepo := cockroach.NewConversationRepository(db.Pool)
	linkRepo := cockroach.NewLinkRepository(db.Pool)

	// 3. Redis with degraded mode support
	redisDB := intDatabase.NewRedisDB(ctx, cfg.Redis.Client())
	defer redisDB.Close()
	redisDB.StartHealthCheck(ctx, cfg.Redis.HealthCheckInterval)

	guestTokenRepo := redisRepo.NewGuestTokenRepository(redisDB)

	// 4. Cassandra for timeline system messages (optional)
	healthChecks := []middleware.HealthCheck{
		{Name: "cockroachdb", Critical: true, Check: db.Ping},
		{Name: "redis", Check: redisDB.HealthCheck},
	}

	var messageWriter callService.SystemMessageWriter = callService.NoopMessageWriter{}
	var asyncWriter *callService.AsyncMessageWriter
	if cfg.Cassandra.Enabled {
		cassandraDB, err := pkgDatabase.NewCassandraDB(&pkgDatabase.CassandraConfig{
			Hosts:    cfg.Cassandra.Hosts,
			Keyspace: cfg.Cassandra.Keyspace,
			Username: cfg.Cassandra.Username,
			Password: cfg.Cassandra.Password,
			Timeout:  cfg.Cassandra.Timeout,
		})
		if err != nil {
			logger.Warn("Cassandra unavailable, system messages disabled", zap.Error(err))
		} else {
			defer cassandraDB.Close()
			healthChecks = append(healthChecks, middleware.HealthCheck{Name: "cassandra", Check: cassandraDB.Ping})
			asyncWriter = callService.NewAsyncMessageWriter(cassandra.NewSystemMessageRepository(cassandraDB.Session), constants.SystemMessageTimeout)
			messageWriter = asyncWriter
		}
	}

	// 5. Fanout
	dispatcher, err := fanout.NewClient(fanout.Config{
		Provider: cfg.Fanout.Provider,
		BaseURL:  cfg.Fanout.URL,
		APIKey:   cfg.Fanout.APIKey,
		Timeout:  cfg.Fanout.Timeout,
	}, redisDB)
	if err != nil {
		logger.Fatal("Failed to initialize fanout client", zap.Error(err))
	}

	// 6. Services
	gate := access.NewGate(conversationRepo, callRepo, groupCallRepo)
	calls := callService.NewService(callRepo, groupCallRepo, conversationRepo, gate, dispatcher, messageWriter)
	auditLogger := audit.NewAuditLogger(audit.NewRedisStore(redisDB.Client))
	links := linkService.NewService(linkRepo, callRepo, groupCallRepo, conversationRepo, guestTokenRepo, gate, calls, dispatcher).
		WithAuditor(auditLogger)
	relay := signaling.NewRelay(gate, groupCallRepo, dispatcher)

	if cfg.Links.SweepInterval > 0 {
		go links.RunSweeper(ctx, cfg.Links.SweepInterval)
	}

	// 7. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	poolLimiter := middleware.NewDBPoolLimiter(db, appMetrics, cfg.Database.PoolThreshold)
	rateLimiter := middleware.NewRateLimiter(redisDB)

	// 8. Handlers
	callHdlr := callHandler.NewHandler(calls)
	linkHdlr := linkHandler.NewHandler(links)
	signalingHdlr := signalingHandler.NewHandler(relay)
	signalingHub := wsHandler.NewSignalingHub(relay, wsHandler.NewRedisSubscriber(redisDB), links, gate,
		appMetrics, cfg.Server.AllowedOrigins, cfg.Limits.MaxWSConnections)

	// 9. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to reset trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", middleware.HealthHandler(cfg.Server.ServiceName, healthChecks...))
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisDB)
	requestTimeout := middleware.TimeoutMiddleware(cfg.Limits.RequestTimeout)
	relayLimit := rateLimiter.Middleware(cfg.Limits.SignalRelay)

	// WebSocket routes stay outside the request timeout
	router.GET("/v1/signaling/ws", middleware.AuthMiddleware(jwtManager, revocationChecker), signalingHub.ServeWS)
	router.GET("/v1/guest/signaling/ws", signalingHub.ServeGuestWS)

	v1 := router.Group("/v1")
	v1.Use(requestTimeout, poolLimiter.Middleware(), middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		v1.POST("/calls", callHdlr.StartCall)
		v1.GET("/calls/history", callHdlr.GetCallHistory)
		v1.GET("/calls/:id", callHdlr.GetCallStatus)
		v1.POST("/calls/:id/invite", callHdlr.InviteCall)
		v1.POST("/calls/:id/decline", callHdlr.DeclineCall)
		v1.POST("/calls/:id/end", callHdlr.EndCall)
		v1.POST("/calls/:id/request-offer", callHdlr.RequestOffer)
		v1.POST("/calls/:id/media", callHdlr.AnnounceMedia)
		v1.POST("/calls/:id/promote", callHdlr.PromoteCall)

		v1.POST("/group-calls", callHdlr.StartGroupCall)
		v1.POST("/group-calls/:id/join", callHdlr.JoinGroupCall)
		v1.POST("/group-calls/:id/leave", callHdlr.LeaveGroupCall)
		v1.POST("/group-calls/:id/end", callHdlr.EndGroupCall)
		v1.POST("/group-calls/:id/decline", callHdlr.DeclineGroupInvite)
		v1.POST("/group-calls/:id/invite", callHdlr.InviteToGroupCall)
		v1.POST("/group-calls/:id/media", callHdlr.AnnounceGroupMedia)
		v1.GET("/group-calls/:id/participants", callHdlr.GetParticipants)
		v1.POST("/conversations/:id/group-call/join", callHdlr.JoinActiveGroupCall)

		v1.POST("/links", linkHdlr.IssueLink)
		v1.POST("/links/revoke", linkHdlr.RevokeLinks)
		v1.GET("/links/:token", linkHdlr.ResolveLink)
		v1.POST("/links/:token/join", linkHdlr.JoinViaLink)
		v1.DELETE("/links/:token", linkHdlr.RevokeLink)

		v1.POST("/signaling/relay", relayLimit, signalingHdlr.Relay)
	}

	router.POST("/v1/guest/links/:token/redeem",
		requestTimeout, poolLimiter.Middleware(), rateLimiter.Middleware(cfg.Limits.GuestRedeem), linkHdlr.RedeemLink)

	guest := router.Group("/v1/guest")
	guest.Use(requestTimeout, poolLimiter.Middleware(), middleware.GuestMiddleware())
	{
		guest.POST("/leave", callHdlr.GuestLeave)
		guest.POST("/media", callHdlr.GuestAnnounceMedia)
		guest.GET("/participants", callHdlr.GuestParticipants)
		guest.POST("/signaling-token", linkHdlr.RefreshSignalingToken)
		guest.POST("/signaling/relay", relayLimit, signalingHdlr.Relay)
	}

	internal := router.Group("/internal")
	internal.Use(requestTimeout, middleware.InternalKeyMiddleware(cfg.Server.InternalKey))
	{
		internal.POST("/guest-signaling/verify", linkHdlr.VerifySignalingToken)
	}

	// 10. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.String("fanout_provider", string(cfg.Fanout.Provider)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown
	signalingHub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	// Flush in-flight fire-and-forget work
	dispatcher.Wait()
	if asyncWriter != nil {
		asyncWriter.Wait()
	}

	logger.Info("Server exited")
}
