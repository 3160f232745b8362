//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/cache"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/command"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/config"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/evaluator"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/graph"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/options"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/repository"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/resilience"
)

var logger = logging.GetLogger("acs.engine")

const agent string = "acs"

// AccessService is the assembled access control service: the entity
// graph and its evaluator, the decision cache, the audit trail, the
// persistence backend behind the resilience executor, and the command
// buffer that serializes every mutation onto one writer goroutine.
type AccessService struct {
	graph      *graph.Graph
	eval       *evaluator.Evaluator
	cache      *cache.Cache
	audit      *audit.Engine
	repo       repository.Service
	exec       *resilience.Executor
	dispatcher *command.Dispatcher
	buffer     *command.Buffer
	streams    []audit.Stream

	tenant          string
	deadlineDefault time.Duration
	retention       time.Duration
	preserve        []string
	now             func() time.Time

	mu      sync.Mutex
	watched map[string]struct{}
}

// NewAccessService builds a service from configuration and options.
//
// The persisted snapshot, if any, is replayed into the graph and the
// audit trail before the command buffer starts, so restored state is
// visible to the first command.
func NewAccessService(ctx context.Context, engineOptions *options.EngineOptions) (*AccessService, error) {
	config.Init()
	cfg := config.VConfig

	now := engineOptions.Clock
	if now == nil {
		now = time.Now
	}

	repo := engineOptions.Repository
	if repo == nil {
		name := engineOptions.RepositoryType
		if name == "" {
			name = cfg.GetString(config.RepositoryType)
		}
		var err error
		repo, err = repository.New(ctx, name)
		if err != nil {
			return nil, err
		}
	}

	var streams []audit.Stream
	auditOpts := []audit.Option{audit.WithClock(now)}
	for _, f := range engineOptions.AuditStreamFactories {
		s, err := f.NewStream()
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
		auditOpts = append(auditOpts, audit.WithStream(s))
	}

	svc := &AccessService{
		graph: graph.New(),
		cache: cache.New(cfg.GetInt(config.CacheMaxEntries), cfg.GetDuration(config.CacheTTL)),
		audit: audit.NewEngine(cfg.GetString(config.TenantID), auditOpts...),
		repo:  repo,
		exec: resilience.NewExecutor(
			func() *resilience.Breaker {
				return resilience.NewBreaker(cfg.GetInt(config.CircuitWindow), cfg.GetFloat64(config.CircuitOpenAt), cfg.GetDuration(config.CircuitCooldown))
			},
			func() *resilience.Monitor {
				return resilience.NewMonitor(cfg.GetInt(config.MonitorSampleFloor))
			},
			resilience.NewDLQ(cfg.GetInt(config.DLQCapacity)),
			cfg.GetInt(config.RetryMaxAttempts),
			cfg.GetDuration(config.RetryInitialInterval)),
		streams:         streams,
		tenant:          cfg.GetString(config.TenantID),
		deadlineDefault: cfg.GetDuration(config.BufferDeadlineDefault),
		retention:       time.Duration(cfg.GetInt(config.RetentionDays)) * 24 * time.Hour,
		preserve:        cfg.GetStringSlice(config.PreserveChangeTypes),
		now:             now,
		watched:         map[string]struct{}{},
	}
	svc.eval = evaluator.New(svc.graph)

	if err := svc.restore(ctx); err != nil {
		return nil, err
	}

	svc.dispatcher = command.NewDispatcher(svc.graph, svc.eval, svc.audit, svc.repo, svc.exec, svc.cache)
	svc.dispatcher.SetClock(now)
	svc.buffer = command.NewBuffer(cfg.GetInt(config.BufferSoftCap), svc.dispatcher.Dispatch)

	stats := svc.graph.Statistics()
	logger.Infof(agent, "start", "tenant %s ready: %d users, %d groups, %d roles, %d resources, %d permissions",
		svc.tenant, stats.Users, stats.Groups, stats.Roles, stats.Resources, stats.Permissions)
	return svc, nil
}

// restore replays the persisted snapshot into the in-memory state.
func (svc *AccessService) restore(ctx context.Context) error {
	snap, err := svc.repo.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	for _, e := range snap.Entities {
		if err := svc.graph.RestoreEntity(e); err != nil {
			return err
		}
	}
	for _, r := range snap.Resources {
		if err := svc.graph.RestoreResource(r); err != nil {
			return err
		}
	}
	for _, rel := range snap.Relations {
		if err := svc.graph.RestoreRelation(rel.Kind, rel.FromID, rel.ToID); err != nil {
			return err
		}
	}
	for _, p := range snap.Permissions {
		if err := svc.graph.SetPermission(p); err != nil {
			return err
		}
	}
	svc.audit.Restore(snap.Audit)
	return nil
}

// Execute runs a command. Queries dispatch immediately against the
// graph; mutations are serialized through the command buffer. A command
// without a deadline receives the configured default, and commands
// without a request id are tagged here so every audit line and log line
// can be correlated.
func (svc *AccessService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.New().String()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = svc.now()
	}

	if cmd.Kind.IsQuery() {
		return svc.dispatcher.Dispatch(ctx, cmd)
	}

	if cmd.Deadline.IsZero() && svc.deadlineDefault > 0 {
		cmd.Deadline = svc.now().Add(svc.deadlineDefault)
	}
	return svc.buffer.Submit(ctx, cmd)
}

// Evaluate renders an access decision for an entity against a URI and
// verb. The principal identifies who asked; denials are attributed to
// it on the audit trail. Probe mode leaves no trace.
func (svc *AccessService) Evaluate(ctx context.Context, principal string, entityID int64, uri string, verb model.Verb, evalOptions ...options.EvalOptionsFunc) model.Decision {
	opts := &options.EvalOptions{}
	for _, o := range evalOptions {
		o(opts)
	}
	dec := svc.dispatcher.Evaluate(ctx, principal, command.EvaluatePayload{
		EntityID: entityID,
		URI:      uri,
		Verb:     verb,
		Probe:    opts.Probe,
	})
	if svc.isWatched(principal) {
		logger.Infof(principal, "evaluate", "watched principal: entity %d %s %s -> %s", entityID, verb, uri, dec.Effect)
	}
	return dec
}

func (svc *AccessService) isWatched(principal string) bool {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_, ok := svc.watched[principal]
	return ok
}

// PurgeAudit applies the configured retention to the audit trail and
// persists the surviving records. Returns the number of purged records.
func (svc *AccessService) PurgeAudit(ctx context.Context) (int, error) {
	deleted, rec := svc.audit.Purge(svc.retention, svc.preserve)
	err := svc.exec.Execute(ctx, "replace-audit", func(ctx context.Context) error {
		return svc.repo.ReplaceAudit(ctx, svc.audit.Records())
	})
	if err != nil {
		return deleted, err
	}
	logger.Infof(agent, "purge-audit", "purged %d records, purge record %d", deleted, rec.ID)
	return deleted, nil
}

// Audit exposes the audit trail for queries, validation, export and
// statistics. All trail reads are safe concurrently with command
// execution.
func (svc *AccessService) Audit() *audit.Engine {
	return svc.audit
}

// Watch adds a principal to the monitoring set.
func (svc *AccessService) Watch(principal string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.watched[principal] = struct{}{}
}

// Unwatch removes a principal from the monitoring set.
func (svc *AccessService) Unwatch(principal string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	delete(svc.watched, principal)
}

// Watched returns the monitoring set, sorted.
func (svc *AccessService) Watched() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]string, 0, len(svc.watched))
	for p := range svc.watched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SuspiciousWatched returns the watched principals that accumulated
// enough denials inside the trailing window to count as suspicious.
func (svc *AccessService) SuspiciousWatched(window time.Duration) []string {
	var out []string
	for _, p := range svc.Watched() {
		if svc.audit.HasSuspiciousActivity(p, window) {
			out = append(out, p)
		}
	}
	return out
}

// Health is the aggregate service health report.
type Health struct {
	Tenant      string                             `json:"tenant"`
	Graph       graph.Stats                        `json:"graph"`
	Cache       cache.Stats                        `json:"cache"`
	Audit       audit.Stats                        `json:"audit"`
	Persistence resilience.HealthReport            `json:"persistence"`
	Breakers    map[string]resilience.BreakerState `json:"breakers"`
	DeadLetters int                                `json:"deadLetters"`
	QueueDepth  int                                `json:"queueDepth"`
}

// Health reports the current state of every component.
func (svc *AccessService) Health() Health {
	return Health{
		Tenant:      svc.tenant,
		Graph:       svc.graph.Statistics(),
		Cache:       svc.cache.Statistics(),
		Audit:       svc.audit.Statistics(),
		Persistence: svc.exec.Health(),
		Breakers:    svc.exec.BreakerStates(),
		DeadLetters: svc.exec.DeadLetters(),
		QueueDepth:  svc.buffer.Depth(),
	}
}

// Stop drains the command buffer, closes the audit streams, and
// releases the repository. The context bounds the drain.
func (svc *AccessService) Stop(ctx context.Context) error {
	if err := svc.buffer.Stop(ctx); err != nil {
		return err
	}
	for _, s := range svc.streams {
		s.Close()
	}
	return svc.repo.Close(ctx)
}
