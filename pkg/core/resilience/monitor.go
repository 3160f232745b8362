//
//  Copyright © Manetu Inc. All rights reserved.
//

package resilience

import (
	"sync"
	"time"
)

// HealthStatus grades the recent persistence failure rate.
type HealthStatus string

// Health statuses.
const (
	HealthUnknown  HealthStatus = "Unknown"
	HealthHealthy  HealthStatus = "Healthy"
	HealthWarning  HealthStatus = "Warning"
	HealthCritical HealthStatus = "Critical"
)

const recentErrorLimit = 10

// OperationHealth is a snapshot of one operation's monitor counters.
type OperationHealth struct {
	Status       HealthStatus  `json:"status"`
	Total        uint64        `json:"total"`
	Succeeded    uint64        `json:"succeeded"`
	Failed       uint64        `json:"failed"`
	FailureRate  float64       `json:"failureRate"`
	AvgLatency   time.Duration `json:"avgLatency"`
	RecentErrors []string      `json:"recentErrors,omitempty"`
}

// Monitor observes one operation's call outcomes and grades it: below
// 10% recent failures is Healthy, up to 25% is Warning, and at or above
// 25% is Critical. Until sampleFloor outcomes have been seen the status
// is Unknown.
type Monitor struct {
	mu sync.Mutex

	sampleFloor int
	window      []bool // true = failure
	windowSize  int

	total        uint64
	succeeded    uint64
	failed       uint64
	totalLatency time.Duration
	recentErrors []string
}

// NewMonitor creates a monitor that withholds judgment until sampleFloor
// outcomes have been observed.
func NewMonitor(sampleFloor int) *Monitor {
	return &Monitor{sampleFloor: sampleFloor, windowSize: 100}
}

// Observe records one persistence call outcome.
func (m *Monitor) Observe(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.totalLatency += latency
	failed := err != nil
	if failed {
		m.failed++
		m.recentErrors = append(m.recentErrors, err.Error())
		if len(m.recentErrors) > recentErrorLimit {
			m.recentErrors = m.recentErrors[len(m.recentErrors)-recentErrorLimit:]
		}
	} else {
		m.succeeded++
	}

	m.window = append(m.window, failed)
	if len(m.window) > m.windowSize {
		m.window = m.window[len(m.window)-m.windowSize:]
	}
}

// Report summarizes the operation's current health.
func (m *Monitor) Report() OperationHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate := 0.0
	if len(m.window) > 0 {
		failed := 0
		for _, f := range m.window {
			if f {
				failed++
			}
		}
		rate = float64(failed) / float64(len(m.window))
	}

	status := HealthUnknown
	if m.total >= uint64(m.sampleFloor) {
		switch {
		case rate >= 0.25:
			status = HealthCritical
		case rate >= 0.10:
			status = HealthWarning
		default:
			status = HealthHealthy
		}
	}

	var avg time.Duration
	if m.total > 0 {
		avg = m.totalLatency / time.Duration(m.total)
	}

	return OperationHealth{
		Status:       status,
		Total:        m.total,
		Succeeded:    m.succeeded,
		Failed:       m.failed,
		FailureRate:  rate,
		AvgLatency:   avg,
		RecentErrors: append([]string{}, m.recentErrors...),
	}
}
