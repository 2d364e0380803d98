package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isectech/security-logging/pkg/health"
	"github.com/isectech/security-logging/pkg/logging"
	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/pkg/shutdown"
	"github.com/isectech/security-logging/services/siem-logging/config"
	delivery "github.com/isectech/security-logging/services/siem-logging/delivery/http"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/services/siem-logging/domain/service"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/alertstore"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/correlation"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/dispatch"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/eventindex"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/logsink"
	"github.com/isectech/security-logging/services/siem-logging/infrastructure/retention"
	"github.com/isectech/security-logging/services/siem-logging/usecase"
	"github.com/isectech/security-logging/shared/common"
	"github.com/isectech/security-logging/shared/database/elasticsearch"
	"github.com/isectech/security-logging/shared/database/encryption"
)

const rotationCheckInterval = time.Minute

func main() {
	cfg, err := config.LoadConfig(os.Getenv("SIEM_CONFIG_PATH"))
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Printf("siem-logging exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// The sink logs through a stdout-only logger so its own messages never
	// re-enter the application stream it is writing.
	bootstrap, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer bootstrap.Cleanup()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	sink, err := logsink.NewSink(cfg.Sink, bootstrap.WithComponent("logsink").Logger, logsink.WithMetrics(collector))
	if err != nil {
		return fmt.Errorf("failed to open log sink: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging, sink.Writer(entity.StreamApplication))
	if err != nil {
		return fmt.Errorf("failed to initialize application logger: %w", err)
	}
	defer logger.Cleanup()

	logger.Info("Starting security logging service",
		zap.String("version", cfg.Service.Version),
		zap.String("environment", cfg.Service.Environment),
		zap.String("log_directory", sink.Directory()),
		zap.Int("audit_retention_days", cfg.Retention.AuditDays))

	ctx, stop := shutdown.Listen(context.Background(), logger.Logger)
	defer stop()

	shutdownManager := shutdown.New(cfg.Service.ShutdownTimeout, logger.Logger)
	var warnings []common.ConfigurationWarning

	encryptor, err := encryption.NewFieldEncryptor(cfg.Encryption, logger.WithComponent("encryption").Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize field encryption: %w", err)
	}
	if encryptor.Ephemeral() {
		warnings = append(warnings, common.ConfigurationWarning{
			Code:    common.WarnEphemeralKey,
			Message: "no encryption key configured; generated ephemeral key, encrypted fields are unrecoverable after restart",
		})
	}

	rules := service.DefaultRules()
	if cfg.Correlation.RulesFile != "" {
		overrides, err := service.LoadRuleOverrides(cfg.Correlation.RulesFile)
		if err != nil {
			return err
		}
		if err := service.ApplyOverrides(rules, overrides); err != nil {
			return err
		}
	}

	store := correlation.NewStore(service.LongestWindow(rules), nil)
	engine, err := service.NewAlertEngine(service.AlertEngineConfig{SuppressionEntries: cfg.Correlation.SuppressionEntries},
		rules, store, logger.WithComponent("alert-engine").Logger, nil)
	if err != nil {
		return fmt.Errorf("failed to create alert engine: %w", err)
	}

	var (
		mirror   *eventindex.Mirror
		index    repository.EventIndex
		esClient *elasticsearch.Client
	)
	if cfg.Elasticsearch.Enabled() {
		esClient, err = elasticsearch.NewClient(&cfg.Elasticsearch, logger.WithComponent("elasticsearch").Logger)
		if err != nil {
			return fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		if cfg.Mirror.EnsureTemplates {
			templateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := elasticsearch.NewTemplateManager(esClient, logger.Logger).EnsureTemplates(templateCtx); err != nil {
				logger.Warn("Failed to install index templates", zap.Error(common.ErrMirror("templates", err)))
			}
			cancel()
		}
		mirror = eventindex.NewMirror(esClient, &cfg.Elasticsearch, cfg.Mirror.Timeout, logger.WithComponent("mirror").Logger, collector)
		index = eventindex.NewReportIndex(esClient, cfg.Elasticsearch.GetIndexPattern(elasticsearch.TemplateAuditLogs))
	} else {
		warnings = append(warnings, common.ConfigurationWarning{
			Code:    common.WarnIndexNotConfigured,
			Message: "external index not configured; mirroring and compliance reports are disabled",
		})
	}

	var registry repository.AlertRepository = alertstore.NewMemoryStore()
	if cfg.Redis.Address != "" {
		redisStore, err := alertstore.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect alert registry: %w", err)
		}
		registry = redisStore
		shutdownManager.AddHook(shutdown.CloserHook("redis", shutdown.PriorityStorage, redisStore))
	}

	var notifier repository.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier := dispatch.NewKafkaNotifier(cfg.Kafka, logger.WithComponent("kafka").Logger)
		notifier = kafkaNotifier
		shutdownManager.AddHook(shutdown.CloserHook("kafka", shutdown.PriorityStorage, kafkaNotifier))
	} else {
		notifier = dispatch.NewLogNotifier(logger.WithComponent("notifier").Logger)
		warnings = append(warnings, common.ConfigurationWarning{
			Code:    common.WarnNotifierFallback,
			Message: "no notification brokers configured; HIGH and CRITICAL alerts are only logged",
		})
	}

	dispatchOpts := []dispatch.DispatcherOption{
		dispatch.WithRegistry(registry),
		dispatch.WithMetrics(collector),
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
	}
	if mirror != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMirror(mirror))
	}
	if cfg.Webhook.URL != "" {
		dispatchOpts = append(dispatchOpts, dispatch.WithWebhook(dispatch.NewWebhookClient(cfg.Webhook, logger.WithComponent("webhook").Logger)))
	} else {
		warnings = append(warnings, common.ConfigurationWarning{
			Code:    common.WarnWebhookUnconfigured,
			Message: "external SIEM webhook not configured",
		})
	}
	dispatcher := dispatch.NewDispatcher(sink, notifier, logger.WithComponent("dispatcher").Logger, dispatchOpts...)

	deps := usecase.Dependencies{
		Sink:       sink,
		Redactor:   encryptor,
		Store:      store,
		Engine:     engine,
		Dispatcher: dispatcher,
		Warnings:   warnings,
		Logger:     logger,
		Metrics:    collector,
	}
	if mirror != nil {
		deps.Mirror = mirror
		deps.Index = index
	}
	loggingService := usecase.NewLoggingService(deps, cfg.Retention.AuditDays)
	alertService := usecase.NewAlertService(registry, logger, nil)

	probes := health.NewManager(cfg.Service.Name, logger.WithComponent("health").Logger)
	if err := registerHealthChecks(probes, sink, esClient); err != nil {
		return err
	}

	server := delivery.NewHTTPServer(cfg.Server, delivery.NewHandlers(loggingService, alertService, probes), logger, collector)
	janitor := retention.NewJanitor(sink.Directory(), cfg.Retention.SweepHour,
		retention.NewPolicy(cfg.Retention.ApplicationDays, cfg.Retention.AuditDays),
		logger.WithComponent("retention").Logger, collector)

	shutdownManager.AddHook(shutdown.HTTPServerHook("http", server))
	shutdownManager.AddHook(shutdown.WaitHook("dispatcher", dispatcher))
	if mirror != nil {
		shutdownManager.AddHook(shutdown.WaitHook("mirror", mirror))
	}
	if esClient != nil {
		shutdownManager.AddHook(shutdown.CloserHook("elasticsearch", shutdown.PriorityStorage, esClient))
	}
	shutdownManager.AddHook(shutdown.LoggerHook("logger", logger))
	shutdownManager.AddHook(shutdown.CloserHook("logsink", shutdown.PriorityTelemetry+1, sink))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error {
		return store.Run(gctx, cfg.Correlation.PruneInterval, collector.SetCorrelationKeys)
	})
	g.Go(func() error {
		ticker := time.NewTicker(rotationCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				sink.Rotate()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdownManager.Shutdown()
	})

	logger.Info("Security logging service started", zap.String("address", cfg.Server.Address()))
	err = g.Wait()
	bootstrap.Info("Security logging service stopped")
	return err
}

func registerHealthChecks(probes *health.Manager, sink *logsink.Sink, esClient *elasticsearch.Client) error {
	if err := probes.RegisterCheck(health.CheckConfig{Name: "process", Type: health.CheckTypeLiveness},
		func(context.Context) health.CheckResult {
			return health.CheckResult{Status: health.StatusHealthy}
		}); err != nil {
		return err
	}

	if err := probes.RegisterCheck(health.CheckConfig{Name: "logsink", Type: health.CheckTypeReadiness, Critical: true},
		func(context.Context) health.CheckResult {
			status := sink.Status()
			if !status.Operative {
				return health.CheckResult{Status: health.StatusUnhealthy, Message: "log directory is not writable"}
			}
			return health.CheckResult{
				Status:  health.StatusHealthy,
				Details: map[string]interface{}{"disk_usage_bytes": status.DiskUsageBytes},
			}
		}); err != nil {
		return err
	}

	if esClient == nil {
		return nil
	}
	return probes.RegisterCheck(health.CheckConfig{Name: "elasticsearch", Type: health.CheckTypeReadiness, Timeout: 3 * time.Second},
		health.PingCheck("elasticsearch", esClient.Ping))
}
