//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package memory implements an in-process repository backend. It is the
// default for tests and single-node deployments, and supports fault
// injection so the resilience layer can be exercised deterministically.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/repository"
)

func init() {
	repository.Register(&factory{})
}

type factory struct{}

func (f *factory) Name() string { return "memory" }

func (f *factory) New(_ context.Context) (repository.Service, error) {
	return New(), nil
}

type permKey struct {
	entityID   int64
	resourceID int64
	verb       model.Verb
	scheme     model.Scheme
}

// Service is the in-memory backend.
type Service struct {
	mu sync.Mutex

	entities    map[int64]model.Entity
	resources   map[int64]model.Resource
	relations   map[repository.Relation]struct{}
	permissions map[permKey]model.Permission
	audit       []model.AuditRecord

	failuresLeft      int
	failWith          error
	auditFailuresLeft int
	writes            int
}

// New creates an empty in-memory backend.
func New() *Service {
	return &Service{
		entities:    map[int64]model.Entity{},
		resources:   map[int64]model.Resource{},
		relations:   map[repository.Relation]struct{}{},
		permissions: map[permKey]model.Permission{},
	}
}

// FailNext arranges for the next n writes to fail with err. Used by
// resilience tests.
func (s *Service) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failuresLeft = n
	s.failWith = err
}

// FailAudit arranges for the next n audit appends to fail, leaving the
// other writes of their transactions healthy.
func (s *Service) FailAudit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditFailuresLeft = n
}

// Writes reports how many write attempts have been observed, including
// injected failures.
func (s *Service) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// maybeFail consumes one injected failure. Caller must hold the lock.
func (s *Service) maybeFail() error {
	s.writes++
	if s.failuresLeft > 0 {
		s.failuresLeft--
		if s.failWith != nil {
			return s.failWith
		}
		return common.NewError(common.KindPersistenceFailure, "injected persistence failure")
	}
	return nil
}

// Begin opens a transaction. Writes are staged and applied on Commit
// under the service lock, so a failed transaction leaves no trace.
func (s *Service) Begin(_ context.Context) (repository.Tx, error) {
	return &tx{s: s}, nil
}

type tx struct {
	s    *Service
	ops  []func(s *Service)
	done bool
}

// stage records one write, applying the fault-injection hooks at write
// time so retries observe failures the way a real backend would.
func (t *tx) stage(op func(s *Service)) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if err := t.s.maybeFail(); err != nil {
		return err
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *tx) SaveEntity(_ context.Context, e model.Entity) error {
	return t.stage(func(s *Service) { s.entities[e.ID] = e })
}

func (t *tx) DeleteEntity(_ context.Context, id int64) error {
	return t.stage(func(s *Service) {
		delete(s.entities, id)
		for rel := range s.relations {
			if rel.FromID == id || rel.ToID == id {
				delete(s.relations, rel)
			}
		}
		for key := range s.permissions {
			if key.entityID == id {
				delete(s.permissions, key)
			}
		}
	})
}

func (t *tx) SaveResource(_ context.Context, r model.Resource) error {
	return t.stage(func(s *Service) { s.resources[r.ID] = r })
}

func (t *tx) DeleteResource(_ context.Context, id int64) error {
	return t.stage(func(s *Service) {
		delete(s.resources, id)
		for key := range s.permissions {
			if key.resourceID == id {
				delete(s.permissions, key)
			}
		}
	})
}

func (t *tx) SaveRelation(_ context.Context, rel repository.Relation) error {
	return t.stage(func(s *Service) { s.relations[rel] = struct{}{} })
}

func (t *tx) DeleteRelation(_ context.Context, rel repository.Relation) error {
	return t.stage(func(s *Service) { delete(s.relations, rel) })
}

func (t *tx) SavePermission(_ context.Context, p model.Permission) error {
	return t.stage(func(s *Service) {
		s.permissions[permKey{p.EntityID, p.ResourceID, p.Verb, p.Scheme}] = p
	})
}

func (t *tx) DeletePermission(_ context.Context, entityID, resourceID int64, verb model.Verb) error {
	return t.stage(func(s *Service) {
		for key := range s.permissions {
			if key.entityID == entityID && key.resourceID == resourceID && key.verb == verb {
				delete(s.permissions, key)
			}
		}
	})
}

func (t *tx) AppendAudit(_ context.Context, rec model.AuditRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.auditFailuresLeft > 0 {
		t.s.auditFailuresLeft--
		return common.NewError(common.KindPersistenceFailure, "injected audit append failure")
	}
	if err := t.s.maybeFail(); err != nil {
		return err
	}
	t.ops = append(t.ops, func(s *Service) { s.audit = append(s.audit, rec) })
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return common.NewError(common.KindPersistenceFailure, "transaction already finished")
	}
	t.done = true
	for _, op := range t.ops {
		op(t.s)
	}
	t.ops = nil
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.done = true
	t.ops = nil
	return nil
}

func (s *Service) ReplaceAudit(_ context.Context, recs []model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeFail(); err != nil {
		return err
	}
	s.audit = append([]model.AuditRecord{}, recs...)
	return nil
}

func (s *Service) Snapshot(_ context.Context) (*repository.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &repository.Snapshot{}
	for _, e := range s.entities {
		snap.Entities = append(snap.Entities, e)
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })
	for _, r := range s.resources {
		snap.Resources = append(snap.Resources, r)
	}
	sort.Slice(snap.Resources, func(i, j int) bool { return snap.Resources[i].ID < snap.Resources[j].ID })
	for rel := range s.relations {
		snap.Relations = append(snap.Relations, rel)
	}
	sort.Slice(snap.Relations, func(i, j int) bool {
		a, b := snap.Relations[i], snap.Relations[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		return a.ToID < b.ToID
	})
	for _, p := range s.permissions {
		snap.Permissions = append(snap.Permissions, p)
	}
	sort.Slice(snap.Permissions, func(i, j int) bool {
		a, b := snap.Permissions[i], snap.Permissions[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.ResourceID < b.ResourceID
	})
	snap.Audit = append([]model.AuditRecord{}, s.audit...)
	return snap, nil
}

func (s *Service) Close(_ context.Context) error { return nil }
