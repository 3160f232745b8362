//
//  Copyright © Manetu Inc. All rights reserved.
//

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

// preconditionKinds are caller faults: retrying them cannot help, and
// they say nothing about backend health.
var preconditionKinds = map[common.Kind]bool{
	common.KindInvalidArgument:    true,
	common.KindNotFound:           true,
	common.KindConflict:           true,
	common.KindCycleDetected:      true,
	common.KindDependenciesExist:  true,
	common.KindIntegrityViolation: true,
}

// Executor routes persistence operations through a per-operation
// circuit breaker, retries transient failures with exponential backoff,
// and dead-letters operations that exhaust their attempts. Breakers and
// monitors are keyed by operation name, so a failing path trips only
// its own circuit.
type Executor struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	monitors map[string]*Monitor

	newBreaker func() *Breaker
	newMonitor func() *Monitor

	dlq             *DLQ
	maxAttempts     int
	initialInterval time.Duration
}

// NewExecutor assembles an executor. The factories mint the breaker and
// monitor for each operation name on first use.
func NewExecutor(newBreaker func() *Breaker, newMonitor func() *Monitor, dlq *DLQ, maxAttempts int, initialInterval time.Duration) *Executor {
	return &Executor{
		breakers:        map[string]*Breaker{},
		monitors:        map[string]*Monitor{},
		newBreaker:      newBreaker,
		newMonitor:      newMonitor,
		dlq:             dlq,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
	}
}

// guards returns op's breaker and monitor, minting them on first use.
func (e *Executor) guards(op string) (*Breaker, *Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[op]
	if !ok {
		b = e.newBreaker()
		e.breakers[op] = b
	}
	m, ok := e.monitors[op]
	if !ok {
		m = e.newMonitor()
		e.monitors[op] = m
	}
	return b, m
}

// Execute runs fn under op's guard stack. The op name selects the
// breaker and monitor and labels log lines and dead letters.
func (e *Executor) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	breaker, monitor := e.guards(op)

	if err := breaker.Allow(); err != nil {
		logger.SysWarnf("%s rejected: %v", op, err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initialInterval

	start := time.Now()
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err != nil && preconditionKinds[common.KindOf(err)] {
			return backoff.Permanent(err)
		}
		if err != nil {
			logger.SysDebugf("%s attempt %d failed: %v", op, attempt, err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.maxAttempts-1)), ctx))
	latency := time.Since(start)

	if err != nil && preconditionKinds[common.KindOf(err)] {
		// caller fault: the backend is fine
		return err
	}

	monitor.Observe(latency, err)
	breaker.Record(err != nil)

	if err != nil {
		logger.SysErrorf("%s failed after %d attempts: %v", op, attempt, err)
		e.dlq.Enqueue(DeadLetter{Op: op, Error: err.Error(), Timestamp: time.Now()})
	}
	return err
}

// HealthReport aggregates per-operation health. The overall status is
// the worst grading among the operations that have one.
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Operations map[string]OperationHealth `json:"operations"`
}

var statusRank = map[HealthStatus]int{
	HealthUnknown:  0,
	HealthHealthy:  1,
	HealthWarning:  2,
	HealthCritical: 3,
}

// Health reports every operation's grading and the worst of them.
func (e *Executor) Health() HealthReport {
	e.mu.Lock()
	monitors := make(map[string]*Monitor, len(e.monitors))
	for op, m := range e.monitors {
		monitors[op] = m
	}
	e.mu.Unlock()

	report := HealthReport{Status: HealthUnknown, Operations: map[string]OperationHealth{}}
	for op, m := range monitors {
		oh := m.Report()
		report.Operations[op] = oh
		if statusRank[oh.Status] > statusRank[report.Status] {
			report.Status = oh.Status
		}
	}
	return report
}

// BreakerStates exposes each operation's breaker state.
func (e *Executor) BreakerStates() map[string]BreakerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]BreakerState, len(e.breakers))
	for op, b := range e.breakers {
		out[op] = b.State()
	}
	return out
}

// DeadLetters exposes the dead-letter queue depth.
func (e *Executor) DeadLetters() int {
	return e.dlq.Len()
}
