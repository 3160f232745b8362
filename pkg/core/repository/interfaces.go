//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package repository defines the persistence contract of the access
// control service and a registry of pluggable implementations.
//
// The graph remains the read model; a repository only has to durably
// record mutations and replay them as a snapshot at startup. Writes are
// scoped to a Tx so a mutation and the audit record justifying it reach
// durability together or not at all. All methods take a context and may
// fail transiently; callers are expected to route transactions through
// the resilience layer rather than drive a Service directly.
package repository

import (
	"context"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

// Relation is a persisted edge between two entities.
type Relation struct {
	Kind   string `json:"kind"` // user-group | user-role | group-role | group-group
	FromID int64  `json:"fromId"`
	ToID   int64  `json:"toId"`
}

// Snapshot is the full persisted state, replayed into the graph at
// startup.
type Snapshot struct {
	Entities    []model.Entity      `json:"entities"`
	Resources   []model.Resource    `json:"resources"`
	Relations   []Relation          `json:"relations"`
	Permissions []model.Permission  `json:"permissions"`
	Audit       []model.AuditRecord `json:"audit"`
}

// Tx is one transactional write scope. Nothing written through it is
// durable, or visible to Snapshot, until Commit returns nil. A Tx that
// fails any write must be rolled back and discarded.
type Tx interface {
	SaveEntity(ctx context.Context, e model.Entity) error
	DeleteEntity(ctx context.Context, id int64) error

	SaveResource(ctx context.Context, r model.Resource) error
	DeleteResource(ctx context.Context, id int64) error

	SaveRelation(ctx context.Context, rel Relation) error
	DeleteRelation(ctx context.Context, rel Relation) error

	SavePermission(ctx context.Context, p model.Permission) error
	DeletePermission(ctx context.Context, entityID, resourceID int64, verb model.Verb) error

	AppendAudit(ctx context.Context, rec model.AuditRecord) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Service is a persistence backend.
type Service interface {
	Begin(ctx context.Context) (Tx, error)

	ReplaceAudit(ctx context.Context, recs []model.AuditRecord) error

	Snapshot(ctx context.Context) (*Snapshot, error)
	Close(ctx context.Context) error
}

// Factory instantiates a Service from configuration.
type Factory interface {
	Name() string
	New(ctx context.Context) (Service, error)
}

var factories = map[string]Factory{}

// Register adds a backend factory to the registry. Intended to be called
// from implementation init() functions.
func Register(f Factory) {
	factories[f.Name()] = f
}

// New instantiates the backend registered under name.
func New(ctx context.Context, name string) (Service, error) {
	f, ok := factories[name]
	if !ok {
		return nil, common.Errorf(common.KindInvalidArgument, "unknown repository type %q", name)
	}
	return f.New(ctx)
}
