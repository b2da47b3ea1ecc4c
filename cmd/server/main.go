// Command server wires the chat service's components together and
// serves the HTTP API, the realtime gateway, the metrics endpoint,
// and the two pipeline consumer stages until a termination signal
// arrives.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/epic1st/pulseroom/backend/analyzer"
	"github.com/epic1st/pulseroom/backend/api"
	"github.com/epic1st/pulseroom/backend/auth"
	"github.com/epic1st/pulseroom/backend/broker"
	"github.com/epic1st/pulseroom/backend/chat"
	"github.com/epic1st/pulseroom/backend/chatcache"
	"github.com/epic1st/pulseroom/backend/config"
	"github.com/epic1st/pulseroom/backend/gateway"
	"github.com/epic1st/pulseroom/backend/logging"
	"github.com/epic1st/pulseroom/backend/metrics"
	"github.com/epic1st/pulseroom/backend/monitoring"
	"github.com/epic1st/pulseroom/backend/pipeline"
	"github.com/epic1st/pulseroom/backend/presence"
	"github.com/epic1st/pulseroom/backend/ratelimit"
	"github.com/epic1st/pulseroom/backend/store"
	"github.com/epic1st/pulseroom/backend/storepg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("config load failed", err)
	}

	if cfg.SentryDSN != "" {
		hook, err := logging.NewSentryHook(cfg.SentryDSN, cfg.Environment)
		if err != nil {
			logging.Warn("sentry hook init failed", logging.String("error", err.Error()))
		} else {
			logging.AddHook(hook)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keyedStore, err := store.New(&store.Config{
		Address:  cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logging.Fatal("redis store connect failed", err)
	}

	pgPool, err := storepg.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		logging.Fatal("postgres connect failed", err)
	}
	defer pgPool.Close()

	denylist := auth.NewDenylist(keyedStore)
	authService := auth.NewService(pgPool.Users(), denylist, auth.Config{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
	})

	limiter := ratelimit.New(keyedStore)
	presenceRegistry := presence.New(keyedStore)
	hotCache := chatcache.New(keyedStore)

	producerClient, err := broker.New(broker.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		logging.Fatal("broker producer connect failed", err)
	}
	defer producerClient.Close()

	inboundConsumer, err := broker.New(broker.Config{Brokers: cfg.Kafka.Brokers, ConsumerGroup: cfg.Kafka.ConsumerGroup}, broker.TopicInbound)
	if err != nil {
		logging.Fatal("broker inbound consumer connect failed", err)
	}
	defer inboundConsumer.Close()

	moderatedConsumer, err := broker.New(broker.Config{Brokers: cfg.Kafka.Brokers, ConsumerGroup: cfg.Kafka.ConsumerGroup}, broker.TopicModerated)
	if err != nil {
		logging.Fatal("broker moderated consumer connect failed", err)
	}
	defer moderatedConsumer.Close()

	messageService := chat.NewMessageService(pgPool.Messages(), pgPool.Rooms(), hotCache, limiter, producerClient)
	membershipService := chat.NewMembershipService(pgPool.Rooms(), pgPool.Users())

	var auditLogger *logging.AuditLogger
	if cfg.AuditLogDir != "" {
		auditLogger, err = logging.NewAuditLogger(cfg.AuditLogDir)
		if err != nil {
			logging.Warn("audit logger init failed", logging.String("error", err.Error()))
		} else {
			defer auditLogger.Close()
			authService.SetAuditLogger(auditLogger)
			messageService.SetAuditLogger(auditLogger)
			membershipService.SetAuditLogger(auditLogger)
		}
	}

	hub := gateway.NewHub(authService, limiter, denylist, presenceRegistry, pgPool.Rooms(), messageService)
	messageService.SetDeleteSink(hub)

	analyzerClient := analyzer.New(analyzer.Config{
		BaseURL:      cfg.Analyzer.BaseURL,
		SharedSecret: cfg.Analyzer.SharedSecret,
		Timeout:      cfg.Analyzer.Timeout,
	})
	inboundStage := pipeline.NewInboundStage(analyzerClient, producerClient)
	moderatedStage := pipeline.NewModeratedStage(pgPool.Messages(), producerClient, hub)
	if auditLogger != nil {
		moderatedStage.SetAuditLogger(auditLogger)
	}

	go func() {
		if err := pipeline.Run(ctx, inboundConsumer, moderatedConsumer, inboundStage, moderatedStage); err != nil && ctx.Err() == nil {
			logging.Error("pipeline stopped with error", err)
		}
	}()

	apiServer := api.NewServer(authService, messageService, membershipService, cfg.CORS.AllowedOrigins)

	healthChecker := monitoring.GetHealthChecker()
	healthChecker.RegisterCheck("redis", storeHealthCheck(keyedStore))
	healthChecker.RegisterCheck("postgres", postgresHealthCheck(pgPool))
	healthChecker.RegisterCheck("broker", brokerHealthCheck(producerClient))

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Routes())
	mux.Handle("/chat", hub)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthChecker.HTTPHealthHandler())
	mux.HandleFunc("/ready", healthChecker.HTTPReadinessHandler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("server listening", logging.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("http server failed", err)
		}
	}()

	<-ctx.Done()
	logging.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("graceful shutdown failed", err)
	}
}

func storeHealthCheck(s *store.Store) monitoring.HealthCheckFunc {
	return func() monitoring.ComponentHealth {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			return monitoring.ComponentHealth{Status: monitoring.StatusUnhealthy, Message: err.Error(), LastChecked: time.Now()}
		}
		return monitoring.ComponentHealth{Status: monitoring.StatusHealthy, Message: "redis reachable", LastChecked: time.Now()}
	}
}

func postgresHealthCheck(p *storepg.Pool) monitoring.HealthCheckFunc {
	return func() monitoring.ComponentHealth {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return monitoring.ComponentHealth{Status: monitoring.StatusUnhealthy, Message: err.Error(), LastChecked: time.Now()}
		}
		return monitoring.ComponentHealth{Status: monitoring.StatusHealthy, Message: "postgres reachable", LastChecked: time.Now()}
	}
}

func brokerHealthCheck(c *broker.Client) monitoring.HealthCheckFunc {
	return func() monitoring.ComponentHealth {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			return monitoring.ComponentHealth{Status: monitoring.StatusDegraded, Message: err.Error(), LastChecked: time.Now()}
		}
		return monitoring.ComponentHealth{Status: monitoring.StatusHealthy, Message: "broker reachable", LastChecked: time.Now()}
	}
}
