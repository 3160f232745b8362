//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core provides the primary interface for the access control
// service, a multi-tenant authorization system that manages users,
// groups, roles, resources and permissions as an in-memory entity graph
// with durable persistence and a tamper-evident audit trail.
//
// Permissions attach to entities directly or arrive through group
// membership, role assignment, and nested groups. Evaluation walks the
// inheritance chain breadth-first; an explicit deny anywhere along it
// wins over any grant.
//
// # Quick Start
//
// Create a service with default options (in-memory repository, stdout
// audit stream):
//
//	svc, err := core.NewAccessService(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop(ctx)
//
// Mutate and query through commands:
//
//	user, err := svc.Execute(ctx, command.Command{
//	    Kind:        command.CreateUser,
//	    SubmittedBy: "admin",
//	    Payload:     command.NamePayload{Name: "alice"},
//	})
//
// Render an access decision:
//
//	decision := svc.Evaluate(ctx, "admin", userID, "/api/documents/1", model.VerbGet)
//
// # Probe Mode
//
// For UI capability discovery without touching the audit trail or the
// decision cache, use probe mode:
//
//	decision := svc.Evaluate(ctx, "admin", userID, uri, verb, options.SetProbeMode(true))
//
// See the [options] package for all available configuration options.
package core

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/JoshuaRamirez/ACS-sub003/internal/core"
	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/command"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/config"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/options"

	// register the built-in repository backend
	_ "github.com/JoshuaRamirez/ACS-sub003/pkg/core/repository/memory"
)

var logger = logging.GetLogger("acs")
var agent = "acs"

// AccessService is the primary interface of the access control service.
//
// Mutations and queries are submitted as tagged commands via Execute;
// mutations are serialized onto a single writer, so callers never
// observe a partially applied change. Implementations are safe for
// concurrent use by multiple goroutines.
type AccessService interface {
	// Execute runs one command and returns its result. The result type
	// depends on the command kind: entity commands return the entity,
	// permission commands return the permission, queries return the
	// queried value, and EvaluatePermission returns a model.Decision.
	Execute(ctx context.Context, cmd command.Command) (any, error)

	// Evaluate renders an access decision for an entity against a URI
	// and verb. The principal is recorded as the actor on the audit
	// trail unless probe mode is set.
	Evaluate(ctx context.Context, principal string, entityID int64, uri string, verb model.Verb, evalOptions ...options.EvalOptionsFunc) model.Decision

	// Audit exposes the audit trail for queries, integrity validation,
	// export, and statistics.
	Audit() *audit.Engine

	// PurgeAudit applies the configured retention policy to the audit
	// trail and persists the result. Returns the number of records
	// removed.
	PurgeAudit(ctx context.Context) (int, error)

	// Watch adds a principal to the monitoring set; SuspiciousWatched
	// reports the watched principals with repeated recent denials.
	Watch(principal string)
	Unwatch(principal string)
	Watched() []string
	SuspiciousWatched(window time.Duration) []string

	// Health reports the state of every component: graph cardinality,
	// cache effectiveness, audit totals, persistence health, breaker
	// state, dead letters and queue depth.
	Health() core.Health

	// Stop drains in-flight commands, closes the audit streams, and
	// releases the repository.
	Stop(ctx context.Context) error
}

// AccessServiceImpl is the default implementation of the
// [AccessService] interface.
//
// AccessServiceImpl wraps the internal service implementation and can
// be embedded or wrapped by applications that need to extend the
// service's behavior, such as adding authentication middleware.
//
// Use [NewAccessService] to create a properly initialized instance.
type AccessServiceImpl struct {
	instance *core.AccessService
}

// NewAccessService creates and initializes a new [AccessService].
//
// By default the service uses the in-memory repository and a stdout
// audit stream. Use functional options to configure a production
// backend and audit delivery:
//
//	svc, err := core.NewAccessService(ctx,
//	    options.WithRepositoryType("memory"),
//	    options.WithAuditStream(audit.NewIoWriterFactory(f)),
//	)
//
// NewAccessService loads configuration from environment variables and
// config files before initializing the service. See the [config]
// package for details.
func NewAccessService(ctx context.Context, engineOptions ...options.EngineOptionsFunc) (AccessService, error) {
	err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	opts := &options.EngineOptions{}
	for _, o := range engineOptions {
		o(opts)
	}
	if len(opts.AuditStreamFactories) == 0 {
		opts.AuditStreamFactories = []audit.Factory{audit.NewStdoutFactory()}
	}

	instance, err := core.NewAccessService(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &AccessServiceImpl{instance: instance}, nil
}

// Execute runs one command through the service.
func (svc *AccessServiceImpl) Execute(ctx context.Context, cmd command.Command) (any, error) {
	logger.Debugf(agent, "Execute", "%s command %s", cmd.Kind, cmd.RequestID)
	return svc.instance.Execute(ctx, cmd)
}

// Evaluate renders an access decision for an entity.
func (svc *AccessServiceImpl) Evaluate(ctx context.Context, principal string, entityID int64, uri string, verb model.Verb, evalOptions ...options.EvalOptionsFunc) model.Decision {
	return svc.instance.Evaluate(ctx, principal, entityID, uri, verb, evalOptions...)
}

// Audit exposes the audit trail.
func (svc *AccessServiceImpl) Audit() *audit.Engine {
	return svc.instance.Audit()
}

// PurgeAudit applies the retention policy to the audit trail.
func (svc *AccessServiceImpl) PurgeAudit(ctx context.Context) (int, error) {
	return svc.instance.PurgeAudit(ctx)
}

// Watch adds a principal to the monitoring set.
func (svc *AccessServiceImpl) Watch(principal string) {
	svc.instance.Watch(principal)
}

// Unwatch removes a principal from the monitoring set.
func (svc *AccessServiceImpl) Unwatch(principal string) {
	svc.instance.Unwatch(principal)
}

// Watched returns the monitoring set, sorted.
func (svc *AccessServiceImpl) Watched() []string {
	return svc.instance.Watched()
}

// SuspiciousWatched returns the watched principals flagged for
// repeated denials inside the trailing window.
func (svc *AccessServiceImpl) SuspiciousWatched(window time.Duration) []string {
	return svc.instance.SuspiciousWatched(window)
}

// Health reports the current state of every component.
func (svc *AccessServiceImpl) Health() core.Health {
	return svc.instance.Health()
}

// Stop shuts the service down, draining in-flight commands first.
func (svc *AccessServiceImpl) Stop(ctx context.Context) error {
	return svc.instance.Stop(ctx)
}
