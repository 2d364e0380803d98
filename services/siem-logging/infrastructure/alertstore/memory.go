package alertstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

// MemoryStore keeps alerts in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*entity.SIEMAlert
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*entity.SIEMAlert)}
}

var _ repository.AlertRepository = (*MemoryStore)(nil)

// Save stores a copy of alert. Saving an existing ID is a no-op, alerts are
// created once.
func (s *MemoryStore) Save(_ context.Context, alert *entity.SIEMAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.AlertID]; !ok {
		s.alerts[alert.AlertID] = clone(alert)
	}
	return nil
}

// Get returns a copy of one alert
func (s *MemoryStore) Get(_ context.Context, alertID string) (*entity.SIEMAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, common.ErrNotFound("alert")
	}
	return clone(alert), nil
}

// List returns alerts newest first
func (s *MemoryStore) List(_ context.Context, filter repository.AlertFilter) ([]*entity.SIEMAlert, error) {
	s.mu.RLock()
	all := make([]*entity.SIEMAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		all = append(all, a)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	var out []*entity.SIEMAlert
	for _, a := range all {
		if !matchesFilter(a, filter) {
			continue
		}
		out = append(out, clone(a))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Acknowledge marks an alert acknowledged
func (s *MemoryStore) Acknowledge(_ context.Context, alertID, by string, at time.Time) (*entity.SIEMAlert, error) {
	return s.update(alertID, func(a *entity.SIEMAlert) { acknowledge(a, by, at) })
}

// Assign sets the assignee of an alert
func (s *MemoryStore) Assign(_ context.Context, alertID, assignee string) (*entity.SIEMAlert, error) {
	return s.update(alertID, func(a *entity.SIEMAlert) { a.AssignedTo = assignee })
}

func (s *MemoryStore) update(alertID string, fn func(*entity.SIEMAlert)) (*entity.SIEMAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return nil, common.ErrNotFound("alert")
	}
	fn(alert)
	return clone(alert), nil
}

func acknowledge(a *entity.SIEMAlert, by string, at time.Time) {
	if a.Acknowledged {
		return
	}
	at = at.UTC()
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
}

func matchesFilter(a *entity.SIEMAlert, f repository.AlertFilter) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
		return false
	}
	return true
}

// clone copies the mutable parts of an alert; evidence events are
// immutable and shared
func clone(a *entity.SIEMAlert) *entity.SIEMAlert {
	c := *a
	c.Events = append([]*entity.SecurityEvent(nil), a.Events...)
	c.RecommendedActions = append([]string(nil), a.RecommendedActions...)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	return &c
}
