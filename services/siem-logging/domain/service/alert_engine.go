package service

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
)

const defaultSuppressionEntries = 10000

// AlertEngine evaluates every logged event against the correlation rules
type AlertEngine struct {
	rules  []*Rule
	store  repository.CorrelationStore
	logger *zap.Logger
	now    func() time.Time

	// fired maps rule and subject to the last firing time; mu makes the
	// check-and-set atomic across concurrent ingests
	mu    sync.Mutex
	fired *lru.Cache[string, time.Time]
}

// AlertEngineConfig configures the engine
type AlertEngineConfig struct {
	SuppressionEntries int
}

// NewAlertEngine creates an engine over store
func NewAlertEngine(config AlertEngineConfig, rules []*Rule, store repository.CorrelationStore, logger *zap.Logger, now func() time.Time) (*AlertEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	size := config.SuppressionEntries
	if size <= 0 {
		size = defaultSuppressionEntries
	}

	fired, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}

	return &AlertEngine{
		rules:  rules,
		store:  store,
		logger: logger,
		now:    now,
		fired:  fired,
	}, nil
}

// Rules returns the configured rules
func (e *AlertEngine) Rules() []*Rule {
	return e.rules
}

// Evaluate runs every matching rule for ev, which must already be in the
// correlation store. A rule fires at most once per subject per window.
func (e *AlertEngine) Evaluate(ev *entity.SecurityEvent) []*entity.SIEMAlert {
	now := e.now()
	subject := ev.Subject()

	var alerts []*entity.SIEMAlert
	for _, rule := range e.rules {
		if !rule.Matches(ev) {
			continue
		}

		evidence := e.evidence(rule, ev, now)
		if len(evidence) < rule.Threshold {
			continue
		}

		if !e.claim(rule, subject, now) {
			e.logger.Debug("Alert suppressed",
				zap.String("rule", rule.ID),
				zap.String("subject", subject))
			continue
		}

		alert := entity.NewSIEMAlert(
			rule.ID,
			rule.Title,
			rule.Describe(subject, len(evidence), rule.Window),
			rule.Severity,
			ev.Category,
			subject,
			evidence,
			rule.RiskScore,
			rule.RecommendedActions,
			now,
		)
		alerts = append(alerts, alert)

		e.logger.Info("Correlation rule fired",
			zap.String("rule", rule.ID),
			zap.String("alert_id", alert.AlertID),
			zap.String("subject", subject),
			zap.Int("evidence", len(evidence)))
	}
	return alerts
}

func (e *AlertEngine) evidence(rule *Rule, ev *entity.SecurityEvent, now time.Time) []*entity.SecurityEvent {
	if rule.Threshold <= 1 {
		return []*entity.SecurityEvent{ev}
	}

	events := e.store.Query(repository.CorrelationQuery{
		Category: ev.Category,
		Action:   rule.Action,
		Subject:  ev.Subject(),
		Window:   rule.Window,
		Now:      now,
	})

	// the query narrows by key only; severity floors are applied here
	matched := make([]*entity.SecurityEvent, 0, len(events))
	for _, candidate := range events {
		if rule.Matches(candidate) {
			matched = append(matched, candidate)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].EventID < matched[j].EventID
	})
	return matched
}

// claim records a firing unless the rule already fired for subject within
// its window
func (e *AlertEngine) claim(rule *Rule, subject string, now time.Time) bool {
	key := rule.ID + "|" + subject

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.fired.Get(key); ok && now.Sub(last) < rule.Window {
		return false
	}
	e.fired.Add(key, now)
	return true
}
