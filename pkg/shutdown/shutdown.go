package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Hook priorities. Lower numbers run first.
const (
	PriorityIngress   = 10
	PriorityWorkers   = 20
	PriorityDelivery  = 30
	PriorityStorage   = 40
	PriorityTelemetry = 50
)

// Hook is a function called during shutdown
type Hook struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Fn       func(context.Context) error
}

// Manager runs shutdown hooks in priority order, once
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	hooks    []Hook
	started  bool
	done     chan struct{}
	failures []error
}

// New creates a shutdown manager. timeout bounds the whole sequence and is
// the default for hooks without their own.
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// AddHook registers hook. Hooks with equal priority run in registration
// order.
func (m *Manager) AddHook(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hook.Timeout <= 0 {
		hook.Timeout = m.timeout
	}
	m.hooks = append(m.hooks, hook)
	sort.SliceStable(m.hooks, func(i, j int) bool {
		return m.hooks[i].Priority < m.hooks[j].Priority
	})
}

// Listen returns a context cancelled on SIGINT or SIGTERM. The caller runs
// Shutdown once the context is done.
func Listen(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil && logger != nil {
			logger.Info("Shutdown signal received")
		}
	}()
	return ctx, stop
}

// Shutdown runs every hook. Later calls wait for the first to finish. The
// returned error joins hook failures.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		<-m.done
		return m.err()
	}
	m.started = true
	hooks := append([]Hook(nil), m.hooks...)
	m.mu.Unlock()

	defer close(m.done)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("Starting graceful shutdown",
		zap.Duration("timeout", m.timeout),
		zap.Int("hooks", len(hooks)))

	start := time.Now()
	for _, hook := range hooks {
		if err := m.run(ctx, hook); err != nil {
			m.mu.Lock()
			m.failures = append(m.failures, fmt.Errorf("%s: %w", hook.Name, err))
			m.mu.Unlock()
		}
	}

	m.logger.Info("Graceful shutdown completed", zap.Duration("duration", time.Since(start)))
	return m.err()
}

// Done is closed once Shutdown has finished
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) == 0 {
		return nil
	}
	return fmt.Errorf("shutdown hooks failed: %v", m.failures)
}

func (m *Manager) run(ctx context.Context, hook Hook) error {
	hookCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- hook.Fn(hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Error("Shutdown hook failed",
				zap.String("name", hook.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return err
		}
		m.logger.Info("Shutdown hook completed",
			zap.String("name", hook.Name),
			zap.Duration("duration", time.Since(start)))
		return nil
	case <-hookCtx.Done():
		m.logger.Warn("Shutdown hook timed out",
			zap.String("name", hook.Name),
			zap.Duration("timeout", hook.Timeout))
		return hookCtx.Err()
	}
}

// HTTPServerHook stops accepting requests and drains in-flight ones
func HTTPServerHook(name string, server interface{ Shutdown(context.Context) error }) Hook {
	return Hook{
		Name:     name,
		Priority: PriorityIngress,
		Timeout:  15 * time.Second,
		Fn:       server.Shutdown,
	}
}

// WaitHook waits for background deliveries to drain
func WaitHook(name string, waiter interface{ Wait(context.Context) error }) Hook {
	return Hook{
		Name:     name,
		Priority: PriorityDelivery,
		Timeout:  10 * time.Second,
		Fn:       waiter.Wait,
	}
}

// CloserHook closes a storage or transport handle
func CloserHook(name string, priority int, closer interface{ Close() error }) Hook {
	return Hook{
		Name:     name,
		Priority: priority,
		Timeout:  10 * time.Second,
		Fn: func(context.Context) error {
			return closer.Close()
		},
	}
}

// LoggerHook flushes buffered log entries
func LoggerHook(name string, logger interface{ Sync() error }) Hook {
	return Hook{
		Name:     name,
		Priority: PriorityTelemetry,
		Timeout:  2 * time.Second,
		Fn: func(context.Context) error {
			return logger.Sync()
		},
	}
}
