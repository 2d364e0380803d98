package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckType selects which probe a check belongs to
type CheckType string

const (
	CheckTypeLiveness  CheckType = "liveness"
	CheckTypeReadiness CheckType = "readiness"
)

// Check represents a health check function
type Check func(context.Context) CheckResult

// CheckResult represents the result of a health check
type CheckResult struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Error     string                 `json:"error,omitempty"`
}

// CheckConfig represents configuration for a health check
type CheckConfig struct {
	Name     string
	Type     CheckType
	Timeout  time.Duration
	Critical bool
}

// Report is the aggregated result for one probe type
type Report struct {
	Status    Status                 `json:"status"`
	Service   string                 `json:"service"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

type registered struct {
	config CheckConfig
	check  Check
}

// Manager runs registered checks for liveness and readiness probes
type Manager struct {
	serviceName string
	startTime   time.Time
	logger      *zap.Logger

	mu     sync.RWMutex
	checks map[string]registered
}

// NewManager creates a new health check manager
func NewManager(serviceName string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		serviceName: serviceName,
		startTime:   time.Now(),
		logger:      logger,
		checks:      make(map[string]registered),
	}
}

// RegisterCheck adds or replaces a check
func (m *Manager) RegisterCheck(config CheckConfig, check Check) error {
	if config.Name == "" {
		return fmt.Errorf("check name is required")
	}
	if check == nil {
		return fmt.Errorf("check function is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Type == "" {
		config.Type = CheckTypeReadiness
	}

	m.mu.Lock()
	m.checks[config.Name] = registered{config: config, check: check}
	m.mu.Unlock()

	m.logger.Debug("Health check registered",
		zap.String("name", config.Name),
		zap.String("type", string(config.Type)),
		zap.Bool("critical", config.Critical))
	return nil
}

// Run executes every check of the given type concurrently
func (m *Manager) Run(ctx context.Context, checkType CheckType) *Report {
	m.mu.RLock()
	var selected []registered
	for _, r := range m.checks {
		if r.config.Type == checkType {
			selected = append(selected, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(selected, func(i, j int) bool { return selected[i].config.Name < selected[j].config.Name })

	results := make([]CheckResult, len(selected))
	var wg sync.WaitGroup
	for i, r := range selected {
		wg.Add(1)
		go func(i int, r registered) {
			defer wg.Done()
			results[i] = m.runCheck(ctx, r)
		}(i, r)
	}
	wg.Wait()

	report := &Report{
		Service:   m.serviceName,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(selected)),
	}
	hasCritical, hasOther := false, false
	for i, r := range selected {
		report.Checks[r.config.Name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		if r.config.Critical && results[i].Status == StatusUnhealthy {
			hasCritical = true
		} else {
			hasOther = true
		}
	}

	switch {
	case hasCritical:
		report.Status = StatusUnhealthy
	case hasOther:
		report.Status = StatusDegraded
	default:
		report.Status = StatusHealthy
	}
	return report
}

func (m *Manager) runCheck(ctx context.Context, r registered) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	resultChan := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultChan <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "Check panicked",
					Error:   fmt.Sprintf("panic: %v", p),
				}
			}
		}()
		resultChan <- r.check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-resultChan:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "Check timed out",
			Error:   checkCtx.Err().Error(),
		}
	}
	result.Timestamp = time.Now().UTC()
	result.Duration = time.Since(start)

	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("name", r.config.Name),
			zap.String("status", string(result.Status)),
			zap.String("message", result.Message))
	}
	return result
}

// PingCheck wraps a ping function. Failures report unhealthy.
func PingCheck(name string, ping func(context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s is unreachable", name),
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%s is healthy", name),
		}
	}
}
