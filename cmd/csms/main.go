package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/central-system/internal/billing"
	"github.com/charging-platform/central-system/internal/business/command"
	"github.com/charging-platform/central-system/internal/business/session"
	"github.com/charging-platform/central-system/internal/cache"
	"github.com/charging-platform/central-system/internal/capability"
	"github.com/charging-platform/central-system/internal/config"
	"github.com/charging-platform/central-system/internal/domain/events"
	"github.com/charging-platform/central-system/internal/domain/protocol"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/message"
	"github.com/charging-platform/central-system/internal/protocol/ocpp16"
	"github.com/charging-platform/central-system/internal/store"
	"github.com/charging-platform/central-system/internal/transport/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("Logger initialized")

	// 实体存储。内存实现用于单实例部署，持久化后端通过同一接口替换
	entityStore := store.NewMemoryStore()

	presence, err := store.NewRedisPresenceStore(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize presence store: %v", err)
	}
	log.Info("Presence store initialized")

	producer, err := message.NewKafkaProducer(message.ProducerConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.EventsTopic,
		RetryMax:       cfg.Kafka.Producer.RetryMax,
		FlushFrequency: cfg.Kafka.Producer.FlushFrequency,
	}, log)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka producer: %v", err)
	}
	log.Info("Kafka producer initialized")

	notifier := message.NewEventNotifier(producer, cfg.PodID, log)

	engine := billing.NewEngine(cfg.Billing.FallbackFlatRate, cfg.Billing.DefaultCurrency)
	sessionMgr := session.NewManager(&session.Config{
		SweepInterval:   time.Minute,
		DefaultCurrency: cfg.Billing.DefaultCurrency,
	}, entityStore, entityStore, entityStore, entityStore, entityStore,
		engine, notifier, capability.NoopBillingService{}, log)
	sessionMgr.Start()
	log.Info("Session manager started")

	dispatcher := ocpp16.NewDispatcher(&ocpp16.Config{
		HeartbeatInterval: cfg.OCPP.HeartbeatInterval,
		PresenceTTL:       5 * time.Minute,
		EventChannelSize:  1000,
	}, ocpp16.Deps{
		Stations:       entityStore,
		Sessions:       entityStore,
		Auth:           entityStore,
		Presence:       presence,
		SessionManager: sessionMgr,
		Notifier:       notifier,
		AuthCache:      cache.NewAuthCache(time.Minute),
	}, cfg.PodID, log)
	log.Info("Protocol dispatcher initialized")

	wsConfig := ws.DefaultConfig()
	wsConfig.ReadTimeout = cfg.Server.ReadTimeout
	wsConfig.WriteTimeout = cfg.Server.WriteTimeout
	wsConfig.MaxConnections = cfg.Server.MaxConnections
	wsConfig.MaxMessageSize = int64(cfg.OCPP.MaxMessageSize)
	wsConfig.CallTimeout = cfg.OCPP.CallTimeout
	wsConfig.Subprotocols = protocol.GetSupportedVersions()
	wsManager := ws.NewManager(wsConfig, dispatcher, log)
	wsManager.Start()
	log.Info("WebSocket manager started")

	orchConfig := command.DefaultConfig()
	orchConfig.HeartbeatTimeout = cfg.OCPP.HeartbeatTimeout
	orchestrator := command.NewOrchestrator(orchConfig, wsManager,
		entityStore, entityStore, sessionMgr, nil, log)
	log.Info("Command orchestrator initialized")

	consumer, err := message.NewKafkaConsumer(message.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.CommandsTopic,
		GroupID:       cfg.Kafka.ConsumerGroup,
		OffsetInitial: cfg.Kafka.Consumer.OffsetsInitial,
	}, orchestrator, log)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka consumer: %v", err)
	}
	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start Kafka consumer: %v", err)
	}
	log.Infof("Kafka consumer started with brokers: %v, group: %s", cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)

	// 业务事件汇入Kafka
	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	go producer.Pump(pumpCtx, dispatcher.Events())
	go producer.Pump(pumpCtx, orchestrator.Events())

	// 连接事件转换为站点上下线事件发布
	go func() {
		connLog := log.Component("connection-events")
		eventFactory := events.NewEventFactory(cfg.PodID)
		for event := range wsManager.Events() {
			connLog.Debug().
				Str("station_id", event.StationID).
				Str("type", string(event.Type)).
				Msg("Connection event")
			switch event.Type {
			case ws.ConnectionEventConnected:
				info := events.StationInfo{ID: event.StationID, LastSeen: event.Timestamp}
				if station, err := entityStore.GetStation(context.Background(), event.StationID); err == nil {
					info.TenantID = station.TenantID
					info.Vendor = station.Vendor
					info.Model = station.Model
					info.Status = string(station.Status)
				}
				if err := producer.PublishEvent(eventFactory.CreateStationConnectedEvent(event.StationID, info)); err != nil {
					connLog.Error().Err(err).Msg("Failed to publish station connected event")
				}
			case ws.ConnectionEventDisconnected, ws.ConnectionEventSuperseded:
				if err := producer.PublishEvent(eventFactory.CreateStationDisconnectedEvent(event.StationID, string(event.Type))); err != nil {
					connLog.Error().Err(err).Msg("Failed to publish station disconnected event")
				}
			}
		}
	}()

	go startMetricsServer(cfg.GetMetricsAddr(), log)

	mux := http.NewServeMux()
	wsPath := strings.TrimSuffix(cfg.Server.WebSocketPath, "/") + "/"
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		stationID := strings.TrimPrefix(r.URL.Path, wsPath)
		wsManager.HandleConnection(w, r, stationID)
	})
	mux.HandleFunc("/health", wsManager.HandleHealthCheck)

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	if cfg.Security.TLSEnabled && cfg.Security.ClientAuth {
		server.TLSConfig = &tls.Config{ClientAuth: tls.RequireAndVerifyClientCert}
	}
	go func() {
		var err error
		if cfg.Security.TLSEnabled {
			log.Infof("Server listening on %s (TLS)", cfg.GetServerAddr())
			err = server.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			log.Infof("Server listening on %s", cfg.GetServerAddr())
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Info("Central system started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down HTTP server: %v", err)
	}
	if err := wsManager.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down WebSocket manager: %v", err)
	}
	log.Info("WebSocket manager shut down")

	orchestrator.Stop()
	sessionMgr.Stop()
	pumpCancel()

	if err := consumer.Close(); err != nil {
		log.Errorf("Error closing Kafka consumer: %v", err)
	}
	log.Info("Kafka consumer closed")

	if err := producer.Close(); err != nil {
		log.Errorf("Error closing Kafka producer: %v", err)
	}
	log.Info("Kafka producer closed")

	if err := presence.Close(); err != nil {
		log.Errorf("Error closing presence store: %v", err)
	}
	log.Info("Presence store closed")

	log.Info("Server gracefully stopped")
}

// startMetricsServer 启动监控服务器
func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Metrics server failed: %v", err)
	}
}
