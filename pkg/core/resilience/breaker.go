//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package resilience guards the persistence path: a circuit breaker over
// a sliding outcome window, bounded retries with exponential backoff, a
// dead-letter queue for writes that exhaust their retries, and a health
// monitor summarizing the recent failure rate.
package resilience

import (
	"sync"
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

var logger = logging.GetLogger("acs.resilience")

// BreakerState is the circuit breaker state.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "Closed"
	BreakerOpen     BreakerState = "Open"
	BreakerHalfOpen BreakerState = "HalfOpen"
)

// Breaker is a sliding-window circuit breaker. The window holds the most
// recent outcomes; once full, a failure ratio at or above the threshold
// opens the circuit. After the cooldown one probe call is admitted, and
// its outcome decides between closing and re-opening.
type Breaker struct {
	mu sync.Mutex

	window    []bool // true = failure
	size      int
	threshold float64
	cooldown  time.Duration

	state    BreakerState
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker with a window of size samples, the
// given open threshold, and cooldown before probing.
func NewBreaker(size int, threshold float64, cooldown time.Duration) *Breaker {
	return &Breaker{
		size:      size,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. An Open breaker whose
// cooldown has elapsed admits exactly one probe call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return common.NewError(common.KindCircuitOpen, "circuit probe in flight")
		}
		b.probing = true
		return nil
	default: // open
		if b.now().Sub(b.openedAt) < b.cooldown {
			return common.NewError(common.KindCircuitOpen, "circuit open")
		}
		b.state = BreakerHalfOpen
		b.probing = true
		logger.SysInfo("circuit half-open, probing backend")
		return nil
	}
}

// Record feeds a call outcome back to the breaker.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if failed {
			b.open()
		} else {
			b.state = BreakerClosed
			b.window = nil
			logger.SysInfo("circuit closed")
		}
		return
	}

	b.window = append(b.window, failed)
	if len(b.window) > b.size {
		b.window = b.window[len(b.window)-b.size:]
	}
	if b.state == BreakerClosed && len(b.window) >= b.size && b.failureRate() >= b.threshold {
		b.open()
	}
}

// open transitions to Open. Caller must hold the lock.
func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.window = nil
	logger.SysWarnf("circuit opened for %s", b.cooldown)
}

func (b *Breaker) failureRate() float64 {
	if len(b.window) == 0 {
		return 0
	}
	failed := 0
	for _, f := range b.window {
		if f {
			failed++
		}
	}
	return float64(failed) / float64(len(b.window))
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}
