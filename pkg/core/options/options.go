//
//  Copyright © Manetu Inc. All rights reserved.
//
// shared between pkg/core and internal/core, and thus must be in a separate package to avoid circular dependencies

package options

import (
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/repository"
)

// EngineOptions defines the configuration options for initializing an
// access service, including factories for audit streams and repository
// backends.
type EngineOptions struct {
	AuditStreamFactories []audit.Factory
	Repository           repository.Service
	RepositoryType       string
	Clock                func() time.Time
}

// EngineOptionsFunc is a function that modifies EngineOptions.
type EngineOptionsFunc func(*EngineOptions)

// WithAuditStream attaches an audit stream factory; every appended
// audit record is delivered to streams created from it.
func WithAuditStream(factory audit.Factory) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.AuditStreamFactories = append(o.AuditStreamFactories, factory)
	}
}

// WithRepository supplies an already-constructed repository, bypassing
// the registry lookup. Primarily for tests and embedders with custom
// backends.
func WithRepository(svc repository.Service) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Repository = svc
	}
}

// WithRepositoryType selects a registered repository backend by name.
func WithRepositoryType(name string) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.RepositoryType = name
	}
}

// WithClock overrides the service time source. Timestamps on entities
// and audit records come from this clock.
func WithClock(now func() time.Time) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Clock = now
	}
}

// EvalOptions represents configuration options for Evaluate operations.
type EvalOptions struct {
	Probe bool
}

// EvalOptionsFunc is a function that modifies EvalOptions.
type EvalOptionsFunc func(*EvalOptions)

// SetProbeMode configures probe mode for Evaluate operations. Probe
// mode renders a decision but records nothing: no audit event and no
// cache insertion. This is useful for what-if checks, such as graying
// out a UI control based on whether the user could perform the action,
// where an ACCESS_DENIED record would wrongly suggest the user tried.
//
// Probe mode is disabled by default.
func SetProbeMode(probe bool) EvalOptionsFunc {
	return func(o *EvalOptions) {
		o.Probe = probe
	}
}
