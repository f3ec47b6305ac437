package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetsfu/internal/core/services"
	httphandlers "meetsfu/internal/handlers/http"
	"meetsfu/internal/infrastructure/distributed"
	"meetsfu/internal/infrastructure/middleware"
	"meetsfu/internal/infrastructure/monitoring"
	"meetsfu/internal/infrastructure/repositories"
	signalserver "meetsfu/internal/infrastructure/signal"
	"meetsfu/internal/infrastructure/webrtc"
	"meetsfu/pkg/config"
	"meetsfu/pkg/logger"
	"meetsfu/pkg/ratelimit"
	"meetsfu/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	startTime := time.Now()

	configPath := os.Getenv("MEETSFU_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", configPath, "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}
	log = log.With("instance_id", cfg.Server.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		JaegerURL:      cfg.Tracing.JaegerURL,
		Environment:    cfg.Tracing.Environment,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	collector := monitoring.NewPrometheusCollector(nil)

	// Media engine and resource bookkeeping
	engineConfig := webrtc.EngineConfig{}
	for _, l := range cfg.Media.ListenIPs {
		engineConfig.ListenIPs = append(engineConfig.ListenIPs, webrtc.ListenIP{IP: l.IP, AnnouncedIP: l.AnnouncedIP})
	}
	engineConfig.PortRange.Min = cfg.Media.PortRange.Min
	engineConfig.PortRange.Max = cfg.Media.PortRange.Max

	engine, err := webrtc.NewEngine(engineConfig, log)
	if err != nil {
		log.Fatalw("failed to create media engine", "error", err)
	}
	registry := services.NewResourceRegistry(log)
	registry.Attach(engine)
	registry.OnChange(collector.RecordLifecycle)

	pool := services.NewWorkerPool(engine, log)
	if err := pool.Start(ctx, cfg.Media.Workers); err != nil {
		log.Fatalw("failed to start media workers", "error", err)
	}

	codecs, err := webrtc.SelectCodecs(cfg.Media.Codecs)
	if err != nil {
		log.Fatalw("invalid media codecs", "error", err)
	}

	// Rooms, sessions and signaling
	events := services.MultiRoomEvents{collector}
	var eventBus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		eventBus = distributed.NewEventBus(client, cfg.Server.InstanceID, log)
		events = append(events, eventBus)
	}

	rooms := services.NewRoomManager(pool, repoFactory.CreateRoomDirectory(), events, services.RoomPolicy{
		AutoCreate:      cfg.Rooms.AutoCreate,
		MaxPeers:        cfg.Rooms.MaxPeers,
		FirstJoinerHost: cfg.Rooms.FirstJoinerHost,
		Codecs:          codecs,
		InstanceID:      cfg.Server.InstanceID,
		ActiveTTL:       cfg.Rooms.ActiveTTL,
	}, log)

	sessions := services.NewSessionService(rooms, services.HighestLayerPolicy{}, collector, services.SessionConfig{
		TransportConnectTimeout: cfg.Rooms.TransportConnectTimeout,
	}, log)

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	clientIPs, err := ratelimit.NewIPResolver(cfg.RateLimiting.TrustedProxies)
	if err != nil {
		log.Fatalw("invalid trusted proxies", "error", err)
	}

	signalOpts := signalserver.Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendQueueSize:  cfg.Signal.SendQueueSize,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		RequireToken:   cfg.Auth.RequireToken,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		signalOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		signalOpts.Burst = cfg.RateLimiting.WebSocket.Burst
		signalOpts.ConnectionsPerMinute = cfg.RateLimiting.WebSocket.ConnectionsPerMinute
		signalOpts.MaxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
		signalOpts.LimiterIdleTimeout = cfg.RateLimiting.IdleTimeout
		signalOpts.ClientIPs = clientIPs
	}
	wsServer := signalserver.NewServer(sessions, authService, collector, signalOpts, log)
	sessions.SetNotifier(wsServer)

	introspection := services.NewIntrospectionService(registry, pool, rooms)

	// Health
	health := monitoring.NewHealthChecker()
	health.AddWorkerCheck(pool, 30*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	health.StartBackgroundChecks(ctx, func(name string, err error) {
		log.Warnw("health check failed", "check", name, "error", err)
	})

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.RateLimiting.TrustedProxies); err != nil {
		log.Fatalw("invalid trusted proxies", "error", err)
	}
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.TracingMiddleware(),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.NewHTTPRateLimitMiddleware(cfg, clientIPs))
	httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(v1)

	introspectionGroup := v1.Group("/introspection")
	if cfg.Auth.RequireToken {
		introspectionGroup.Use(middleware.AuthMiddleware(authService), middleware.RequireHost())
	}
	httphandlers.NewIntrospectionHandler(introspection).SetupRoutes(introspectionGroup)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.Connections(),
			"sessions":    sessions.Sessions(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		log.Infow("prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("starting meetsfu conference server", "version", version, "address", cfg.Server.Address, "signal_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if eventBus != nil {
		g.Go(func() error {
			err := eventBus.Subscribe(gctx, func(e *distributed.Event) error {
				log.Debugw("remote room event",
					"type", e.Type,
					"room_id", e.RoomID,
					"peer_id", e.PeerID,
					"from_instance", e.InstanceID,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus subscription ended", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down meetsfu conference server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorw("server failed", "error", err)
	}

	// Signaling first so no new requests arrive while media is torn down.
	wsServer.Shutdown()
	sessions.Close()
	rooms.Close()
	pool.Close()
	engine.Close()
	registry.Close()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("meetsfu conference server stopped")
}
