//
//  Copyright © Manetu Inc. All rights reserved.
//

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(10, 0.25, 5*time.Second)

	// 7 successes and 2 failures: window not yet decisive
	for i := 0; i < 7; i++ {
		b.Record(false)
	}
	b.Record(true)
	b.Record(true)
	assert.Equal(t, BreakerClosed, b.State())

	// 3/10 failures crosses the 25% threshold
	b.Record(true)
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Allow()
	assert.Equal(t, common.KindCircuitOpen, common.KindOf(err))
}

func TestBreakerProbeAndRecovery(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(4, 0.25, 5*time.Second)
	b.now = func() time.Time { return clock }

	for i := 0; i < 4; i++ {
		b.Record(true)
	}
	require.Equal(t, BreakerOpen, b.State())

	// before cooldown: rejected
	assert.Error(t, b.Allow())

	// after cooldown: exactly one probe admitted
	clock = clock.Add(6 * time.Second)
	require.NoError(t, b.Allow())
	assert.Error(t, b.Allow())

	// probe success closes the circuit
	b.Record(false)
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 0.25, time.Second)
	b.now = func() time.Time { return clock }

	b.Record(true)
	b.Record(true)
	require.Equal(t, BreakerOpen, b.State())

	clock = clock.Add(2 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(true)

	assert.Equal(t, BreakerOpen, b.State())
	assert.Error(t, b.Allow())
}

func newExecutor(attempts int) *Executor {
	return NewExecutor(
		func() *Breaker { return NewBreaker(10, 0.25, 5*time.Second) },
		func() *Monitor { return NewMonitor(10) },
		NewDLQ(8),
		attempts,
		time.Millisecond,
	)
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	e := newExecutor(3)
	calls := 0
	err := e.Execute(context.Background(), "save-entity", func(context.Context) error {
		calls++
		if calls < 3 {
			return common.NewError(common.KindPersistenceFailure, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, e.DeadLetters())
}

func TestExecutorDeadLettersOnExhaustion(t *testing.T) {
	e := newExecutor(3)
	calls := 0
	err := e.Execute(context.Background(), "save-entity", func(context.Context) error {
		calls++
		return common.NewError(common.KindPersistenceFailure, "down")
	})
	assert.Equal(t, common.KindPersistenceFailure, common.KindOf(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, e.DeadLetters())
}

func TestExecutorDoesNotRetryPreconditionFailures(t *testing.T) {
	e := newExecutor(3)
	for _, kind := range []common.Kind{
		common.KindInvalidArgument, common.KindNotFound, common.KindConflict,
		common.KindCycleDetected, common.KindDependenciesExist,
	} {
		calls := 0
		err := e.Execute(context.Background(), "op", func(context.Context) error {
			calls++
			return common.NewError(kind, "caller fault")
		})
		assert.Equal(t, kind, common.KindOf(err))
		assert.Equal(t, 1, calls, kind)
	}

	// caller faults leave the health grading untouched
	assert.Equal(t, uint64(0), e.Health().Operations["op"].Total)
	assert.Equal(t, 0, e.DeadLetters())
}

func TestExecutorRejectsWhenCircuitOpen(t *testing.T) {
	e := newExecutor(1)
	for i := 0; i < 10; i++ {
		_ = e.Execute(context.Background(), "op", func(context.Context) error {
			return common.NewError(common.KindPersistenceFailure, "down")
		})
	}
	require.Equal(t, BreakerOpen, e.BreakerStates()["op"])

	calls := 0
	err := e.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	assert.Equal(t, common.KindCircuitOpen, common.KindOf(err))
	assert.Equal(t, 0, calls)
}

func TestBreakerFaultsAreIsolatedPerOperation(t *testing.T) {
	e := newExecutor(1)
	for i := 0; i < 10; i++ {
		_ = e.Execute(context.Background(), "append-audit", func(context.Context) error {
			return common.NewError(common.KindPersistenceFailure, "down")
		})
	}
	require.Equal(t, BreakerOpen, e.BreakerStates()["append-audit"])

	// the failing path does not poison unrelated operations
	calls := 0
	err := e.Execute(context.Background(), "save-entity", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, BreakerClosed, e.BreakerStates()["save-entity"])
}

func TestHealthAggregatesWorstOperation(t *testing.T) {
	e := newExecutor(1)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Execute(context.Background(), "save-entity", func(context.Context) error {
			return nil
		}))
	}
	for i := 0; i < 10; i++ {
		_ = e.Execute(context.Background(), "append-audit", func(context.Context) error {
			return common.NewError(common.KindPersistenceFailure, "down")
		})
	}

	h := e.Health()
	assert.Equal(t, HealthHealthy, h.Operations["save-entity"].Status)
	assert.Equal(t, HealthCritical, h.Operations["append-audit"].Status)
	assert.Equal(t, HealthCritical, h.Status)
	assert.Equal(t, uint64(10), h.Operations["save-entity"].Total)
}

func TestDLQBounded(t *testing.T) {
	q := NewDLQ(2)
	q.Enqueue(DeadLetter{Op: "a"})
	q.Enqueue(DeadLetter{Op: "b"})
	q.Enqueue(DeadLetter{Op: "c"})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())

	letters := q.Drain()
	require.Len(t, letters, 2)
	assert.Equal(t, "b", letters[0].Op)
	assert.Equal(t, "c", letters[1].Op)
	assert.Equal(t, 0, q.Len())
}

func TestMonitorGrading(t *testing.T) {
	m := NewMonitor(10)
	assert.Equal(t, HealthUnknown, m.Report().Status)

	for i := 0; i < 9; i++ {
		m.Observe(time.Millisecond, nil)
	}
	assert.Equal(t, HealthUnknown, m.Report().Status)

	m.Observe(time.Millisecond, nil)
	assert.Equal(t, HealthHealthy, m.Report().Status)

	// push the recent failure rate into warning territory
	for i := 0; i < 2; i++ {
		m.Observe(time.Millisecond, assert.AnError)
	}
	report := m.Report()
	assert.Equal(t, HealthWarning, report.Status)
	assert.NotEmpty(t, report.RecentErrors)

	// and into critical
	for i := 0; i < 4; i++ {
		m.Observe(time.Millisecond, assert.AnError)
	}
	report = m.Report()
	assert.Equal(t, HealthCritical, report.Status)
	assert.Equal(t, uint64(16), report.Total)
	assert.Equal(t, uint64(6), report.Failed)
}
