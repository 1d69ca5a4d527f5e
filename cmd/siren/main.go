package main

import (
	"context"
	"errors"

	"geominer/siren/internal/audit"
	"geominer/siren/internal/handlers"
	"geominer/siren/internal/metrics"
	"geominer/siren/internal/websocket"
	"geominer/siren/pkg/auth"
	"geominer/siren/pkg/config"
	"geominer/siren/pkg/eventlog"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/monitoring"
	"geominer/siren/pkg/server"
	"geominer/siren/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("siren")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Siren (alert relay)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("siren", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("siren", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		HubConnections:     metricsCollector.NewGauge("websocket_hub_connections_active", "Active WebSocket hub connections", []string{}),
		HubMessages:        metricsCollector.NewCounter("websocket_hub_messages_total", "WebSocket hub messages", []string{"type", "direction"}),
		RoomMembers:        metricsCollector.NewGauge("websocket_room_members", "Current room memberships", []string{"kind"}),
		QueueOverflows:     metricsCollector.NewCounter("websocket_queue_overflows_total", "Outbound queue overflows", []string{"policy"}),
		AuthRejections:     metricsCollector.NewCounter("websocket_auth_rejections_total", "Connections rejected at the gate", []string{"reason"}),
		MessageDeliveryLag: metricsCollector.NewHistogram("message_delivery_lag_seconds", "Alert delivery latency", []string{"type"}, nil),
	}

	// Create event log metrics
	serviceMetrics.EventLogEntries, serviceMetrics.EventLogFailures, serviceMetrics.EventLogDuration = metricsCollector.CreateEventLogMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the event log
	redisURL := config.RequireEnv("REDIS_URL")
	logClient, err := eventlog.NewClient(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to event log")
	}
	defer logClient.Close()

	verifier := buildVerifier(config.GetEnv("JWT_SECRET", ""))
	if _, ok := verifier.(auth.DecodeVerifier); ok {
		logger.Warn("JWT_SECRET not set, tokens are decoded without signature verification")
	}

	policy, err := websocket.ParseOverflowPolicy(config.GetEnv("SEND_OVERFLOW_POLICY", string(websocket.OverflowDisconnect)))
	if err != nil {
		logger.WithError(err).Fatal("Invalid SEND_OVERFLOW_POLICY")
	}

	hubConfig := websocket.Config{
		Verifier:       verifier,
		AllowedOrigins: config.GetEnvList("ALLOWED_ORIGINS", []string{"*"}),
		ElevatedRoles:  config.GetEnvList("ELEVATED_ROLES", []string{"SUPER_ADMIN", "ADMIN"}),
		QueueSize:      config.GetEnvInt("SEND_QUEUE_SIZE", 256),
		QueuePolicy:    policy,
	}

	// Connection audit trail
	if config.GetEnvBool("AUDIT_ENABLED", true) {
		auditor := audit.NewPublisher(eventlog.NewPublisher(logClient), config.GetEnv("AUDIT_STREAM", "audit:connections"), logger)
		go auditor.Run(ctx)
		hubConfig.Audit = auditor
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger, serviceMetrics, hubConfig)
	go hub.Run()

	// Setup event log consumer
	consumer := eventlog.NewConsumer(logClient, logger)
	consumer.OnReadError = func(topic string) {
		serviceMetrics.EventLogFailures.WithLabelValues(topic).Inc()
	}

	// Initialize handlers
	sirenHandlers := handlers.NewSirenHandlers(hub, consumer, logger, serviceMetrics)

	alertTopic := config.GetEnv("ALERT_STREAM", "alerts:new")
	siteTopic := config.GetEnv("SITE_STREAM", "sites:updated")
	consumer.AddHandler(alertTopic, sirenHandlers.HandleAlertEvent)
	consumer.AddHandler(siteTopic, sirenHandlers.HandleSiteEvent)

	// Add health checks
	healthChecker.AddCheck("event_log", monitoring.EventLogHealthCheck(consumer))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REDIS_URL":    redisURL,
		"ALERT_STREAM": alertTopic,
		"SITE_STREAM":  siteTopic,
	}))

	// Start tailing the event log
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Event log consumer error")
		}
	}()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "siren", healthChecker, metricsCollector)

	// Setup WebSocket and stats routes
	router.GET("/ws", sirenHandlers.HandleWebSocket)
	router.GET("/stats", sirenHandlers.HandleStats)
	router.NoRoute(sirenHandlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("siren", "8003")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// buildVerifier picks the token verifier: signatures are checked when a
// shared secret is configured, otherwise tokens are only decoded.
func buildVerifier(secret string) auth.Verifier {
	if secret == "" {
		return auth.DecodeVerifier{}
	}
	return auth.NewHMACVerifier([]byte(secret))
}
