package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
)

// KafkaConfig configures the notification topic
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic        string        `yaml:"topic" mapstructure:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts needing human attention to a topic read
// by the paging integration
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier creates a notifier writing to config.Topic
func NewKafkaNotifier(config KafkaConfig, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Topic == "" {
		config.Topic = "security-alerts"
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	sugar := logger.Sugar()
	return &KafkaNotifier{
		topic: config.Topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  1,
			WriteTimeout: config.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Logger:       kafka.LoggerFunc(sugar.Debugf),
			ErrorLogger:  kafka.LoggerFunc(sugar.Errorf),
		},
	}
}

var _ repository.Notifier = (*KafkaNotifier)(nil)

// Notify publishes alert keyed by subject so one subject stays ordered
func (n *KafkaNotifier) Notify(ctx context.Context, alert *entity.SIEMAlert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.Subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(alert.AlertID)},
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "rule_id", Value: []byte(alert.RuleID)},
		},
		Time: alert.CreatedAt,
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", n.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier records the notification on the operational log. It is used
// when no paging integration is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at warn level
func (n *LogNotifier) Notify(_ context.Context, alert *entity.SIEMAlert) error {
	n.logger.Warn("Alert requires human notification",
		zap.String("alert_id", alert.AlertID),
		zap.String("rule_id", alert.RuleID),
		zap.String("severity", string(alert.Severity)),
		zap.String("subject", alert.Subject),
		zap.Int("risk_score", alert.RiskScore))
	return nil
}
