package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isectech/security-logging/pkg/metrics"
	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
	"github.com/isectech/security-logging/shared/database/elasticsearch"
)

// Delivery channels
const (
	ChannelAlertsStream = "alerts-stream"
	ChannelRegistry     = "alert-registry"
	ChannelNotifier     = "notifier"
	ChannelWebhook      = "webhook"
)

// AlertSender delivers an alert to an external endpoint
type AlertSender interface {
	Send(ctx context.Context, alert *entity.SIEMAlert) error
}

// Dispatcher fans an alert out to its channels. Local recording happens
// inline; network channels run on goroutines under a bounded timeout so the
// triggering ingest never waits on them.
type Dispatcher struct {
	sink     repository.LogSink
	mirror   repository.EventMirror
	registry repository.AlertRepository
	notifier repository.Notifier
	webhook  AlertSender
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector
	wg       sync.WaitGroup
}

// DispatcherOption configures optional channels
type DispatcherOption func(*Dispatcher)

// WithMirror mirrors alerts into the alerts index
func WithMirror(m repository.EventMirror) DispatcherOption {
	return func(d *Dispatcher) { d.mirror = m }
}

// WithRegistry keeps alerts available for acknowledgement
func WithRegistry(r repository.AlertRepository) DispatcherOption {
	return func(d *Dispatcher) { d.registry = r }
}

// WithWebhook posts every alert to an external endpoint
func WithWebhook(s AlertSender) DispatcherOption {
	return func(d *Dispatcher) { d.webhook = s }
}

// WithMetrics counts deliveries
func WithMetrics(m *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTimeout bounds each network delivery
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher creates a dispatcher. notifier receives HIGH and CRITICAL
// alerts.
func NewDispatcher(sink repository.LogSink, notifier repository.Notifier, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:     sink,
		notifier: notifier,
		timeout:  5 * time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers alert. Failures are logged per channel and never
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *entity.SIEMAlert) {
	d.metrics.RecordAlert(alert.RuleID, string(alert.Severity))

	// the triggering event is already durable, so the alert record must
	// outlive a caller that has gone away
	ctx = context.WithoutCancel(ctx)

	err := d.sink.Append(ctx, entity.StreamAlerts, entity.NewAlertEntry(alert), nil)
	d.record(ChannelAlertsStream, alert, err)

	if d.registry != nil {
		saveCtx, cancel := context.WithTimeout(ctx, d.timeout)
		d.record(ChannelRegistry, alert, d.registry.Save(saveCtx, alert))
		cancel()
	}

	if d.mirror != nil {
		d.mirror.Mirror(elasticsearch.TemplateAlerts, alert.AlertID, alert.CreatedAt, alert)
	}

	if alert.RequiresNotification() && d.notifier != nil {
		d.async(ChannelNotifier, alert, d.notifier.Notify)
	}

	if d.webhook != nil {
		d.async(ChannelWebhook, alert, d.webhook.Send)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) async(channel string, alert *entity.SIEMAlert, deliver func(context.Context, *entity.SIEMAlert) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		d.record(channel, alert, deliver(ctx, alert))
	}()
}

func (d *Dispatcher) record(channel string, alert *entity.SIEMAlert, err error) {
	d.metrics.RecordDelivery(channel, err)
	if err == nil {
		return
	}
	d.logger.Error("Alert delivery failed",
		zap.String("alert_id", alert.AlertID),
		zap.String("rule_id", alert.RuleID),
		zap.Error(common.ErrDispatch(channel, err)))
}
