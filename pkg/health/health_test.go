package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func TestManager_Statuses(t *testing.T) {
	m := NewManager("siem-logging", zaptest.NewLogger(t))
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "sink", Critical: true}, healthy))
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "process", Type: CheckTypeLiveness}, healthy))

	report := m.Run(context.Background(), CheckTypeReadiness)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 1)

	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "elasticsearch"},
		PingCheck("elasticsearch", func(context.Context) error { return errors.New("connection refused") })))
	report = m.Run(context.Background(), CheckTypeReadiness)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "connection refused", report.Checks["elasticsearch"].Error)

	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "sink", Critical: true},
		func(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }))
	assert.Equal(t, StatusUnhealthy, m.Run(context.Background(), CheckTypeReadiness).Status)

	assert.Equal(t, StatusHealthy, m.Run(context.Background(), CheckTypeLiveness).Status)
}

func TestManager_TimeoutAndPanic(t *testing.T) {
	m := NewManager("siem-logging", zaptest.NewLogger(t))
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "slow", Timeout: 10 * time.Millisecond},
		func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		}))
	require.NoError(t, m.RegisterCheck(CheckConfig{Name: "panics"},
		func(context.Context) CheckResult { panic("bad check") }))

	report := m.Run(context.Background(), CheckTypeReadiness)
	assert.Equal(t, "Check timed out", report.Checks["slow"].Message)
	assert.Equal(t, StatusUnhealthy, report.Checks["panics"].Status)
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestManager_RegisterValidation(t *testing.T) {
	m := NewManager("siem-logging", nil)
	assert.Error(t, m.RegisterCheck(CheckConfig{}, healthy))
	assert.Error(t, m.RegisterCheck(CheckConfig{Name: "x"}, nil))
}
