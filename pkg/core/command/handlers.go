//
//  Copyright © Manetu Inc. All rights reserved.
//

package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/cache"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/evaluator"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/graph"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/repository"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/resilience"
)

// Dispatcher executes commands against the graph.
//
// Every mutation follows the same shape: validate preconditions against
// the current graph, persist the writes and the audit record as one
// transaction through the resilience executor, then bump the cache
// generation and apply the in-memory change. The graph is touched only
// after the transaction commits, so a persistence failure needs no
// rollback, and the durable store never holds a mutation without the
// audit record justifying it. Validation against the graph is race-free
// because mutations are dispatched exclusively from the buffer's writer
// goroutine.
type Dispatcher struct {
	graph *graph.Graph
	eval  *evaluator.Evaluator
	audit *audit.Engine
	repo  repository.Service
	exec  *resilience.Executor
	cache *cache.Cache
	now   func() time.Time
}

// NewDispatcher assembles a dispatcher over its collaborators.
func NewDispatcher(g *graph.Graph, ev *evaluator.Evaluator, ae *audit.Engine, repo repository.Service, exec *resilience.Executor, c *cache.Cache) *Dispatcher {
	return &Dispatcher{
		graph: g,
		eval:  ev,
		audit: ae,
		repo:  repo,
		exec:  exec,
		cache: c,
		now:   time.Now,
	}
}

// SetClock overrides the dispatcher's time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

func payload[T any](cmd Command) (T, error) {
	p, ok := cmd.Payload.(T)
	if !ok {
		var zero T
		return zero, common.Errorf(common.KindInvalidArgument,
			"command %s carries payload %T, want %T", cmd.Kind, cmd.Payload, zero)
	}
	return p, nil
}

// Dispatch routes a command to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (any, error) {
	switch cmd.Kind {
	case CreateUser, CreateGroup, CreateRole:
		return d.createEntity(ctx, cmd)
	case UpdateUser, UpdateGroup, UpdateRole:
		return d.renameEntity(ctx, cmd)
	case DeleteUser, DeleteGroup, DeleteRole:
		return d.deleteEntity(ctx, cmd)
	case CreateResource:
		return d.createResource(ctx, cmd)
	case UpdateResource:
		return d.updateResource(ctx, cmd)
	case DeleteResource:
		return d.deleteResource(ctx, cmd)
	case AddUserToGroup, RemoveUserFromGroup,
		AssignUserToRole, UnassignUserFromRole,
		AddRoleToGroup, RemoveRoleFromGroup,
		AddGroupToGroup, RemoveGroupFromGroup:
		return d.link(ctx, cmd)
	case GrantPermission, DenyPermission:
		return d.setPermission(ctx, cmd)
	case RemovePermission:
		return d.removePermission(ctx, cmd)
	case GetUser, GetGroup, GetRole:
		return d.getEntity(cmd)
	case GetUsers:
		return d.graph.Users(), nil
	case GetGroups:
		return d.graph.Groups(), nil
	case GetRoles:
		return d.graph.Roles(), nil
	case GetResources:
		return d.graph.Resources(), nil
	case CheckPermission:
		p, err := payload[EvaluatePayload](cmd)
		if err != nil {
			return nil, err
		}
		return d.Evaluate(ctx, cmd.SubmittedBy, p).Allowed(), nil
	case EvaluatePermission:
		p, err := payload[EvaluatePayload](cmd)
		if err != nil {
			return nil, err
		}
		return d.Evaluate(ctx, cmd.SubmittedBy, p), nil
	case GetEntityPermissions:
		p, err := payload[IDPayload](cmd)
		if err != nil {
			return nil, err
		}
		if _, ok := d.graph.Entity(p.ID); !ok {
			return nil, common.Errorf(common.KindNotFound, "entity %d not found", p.ID)
		}
		return d.graph.PermissionsOf(p.ID), nil
	default:
		return nil, common.Errorf(common.KindInvalidArgument, "unknown command kind %q", cmd.Kind)
	}
}

// persist commits one command's writes together with its audit record.
// The audit engine seals the record against the current tail, then the
// executor retries the whole transaction as a unit; the trail is
// extended only when the transaction commits, so the in-memory trail
// and the durable one cannot diverge.
func (d *Dispatcher) persist(ctx context.Context, op, changeType, entityType string, entityID int64, changedBy, details string,
	write func(ctx context.Context, tx repository.Tx) error) error {
	_, err := d.audit.Extend(changeType, entityType, entityID, changedBy, details, func(rec model.AuditRecord) error {
		return d.exec.Execute(ctx, op, func(ctx context.Context) error {
			tx, err := d.repo.Begin(ctx)
			if err != nil {
				return err
			}
			if write != nil {
				if err := write(ctx, tx); err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
			if err := tx.AppendAudit(ctx, rec); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			return tx.Commit(ctx)
		})
	})
	return err
}

func entityKindFor(kind Kind) model.EntityKind {
	switch {
	case strings.HasSuffix(string(kind), "User"):
		return model.KindUser
	case strings.HasSuffix(string(kind), "Group"):
		return model.KindGroup
	default:
		return model.KindRole
	}
}

func (d *Dispatcher) createEntity(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[NamePayload](cmd)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, common.NewError(common.KindInvalidArgument, "entity name must not be empty")
	}

	now := d.now()
	e := model.Entity{
		ID:        d.graph.NextID() + 1,
		Kind:      entityKindFor(cmd.Kind),
		Name:      p.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = d.persist(ctx, "save-entity", model.ChangeCreate, string(e.Kind), e.ID, cmd.SubmittedBy, common.CompactJSON(p),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.SaveEntity(ctx, e)
		})
	if err != nil {
		return nil, err
	}
	if err := d.graph.RestoreEntity(e); err != nil {
		return nil, err
	}

	logger.Infof(cmd.SubmittedBy, string(cmd.Kind), "created %s %d (%s)", e.Kind, e.ID, e.Name)
	return e, nil
}

func (d *Dispatcher) renameEntity(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[NamePayload](cmd)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, common.NewError(common.KindInvalidArgument, "entity name must not be empty")
	}
	e, ok := d.graph.Entity(p.ID)
	if !ok {
		return nil, common.Errorf(common.KindNotFound, "entity %d not found", p.ID)
	}
	if want := entityKindFor(cmd.Kind); e.Kind != want {
		return nil, common.Errorf(common.KindInvalidArgument, "entity %d is a %s, not a %s", p.ID, e.Kind, want)
	}

	now := d.now()
	updated := e
	updated.Name = p.Name
	updated.UpdatedAt = now

	err = d.persist(ctx, "save-entity", model.ChangeUpdate, string(e.Kind), e.ID, cmd.SubmittedBy,
		fmt.Sprintf(`{"from":%q,"to":%q}`, e.Name, p.Name),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.SaveEntity(ctx, updated)
		})
	if err != nil {
		return nil, err
	}
	if err := d.graph.Rename(p.ID, p.Name, now); err != nil {
		return nil, err
	}
	return updated, nil
}

// dependencyCount tallies the relations and permissions that block an
// un-forced delete.
func (d *Dispatcher) dependencyCount(e model.Entity) int {
	n := len(d.graph.PermissionsOf(e.ID))
	switch e.Kind {
	case model.KindUser:
		n += len(d.graph.GroupsOfUser(e.ID)) + len(d.graph.RolesOfUser(e.ID))
	case model.KindGroup:
		n += len(d.graph.ChildGroups(e.ID)) + len(d.graph.MembersOfGroup(e.ID)) + len(d.graph.RolesOfGroup(e.ID))
	case model.KindRole:
		n += len(d.graph.GroupsOfRole(e.ID)) + len(d.graph.UsersOfRole(e.ID))
	}
	return n
}

func (d *Dispatcher) deleteEntity(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[DeletePayload](cmd)
	if err != nil {
		return nil, err
	}
	e, ok := d.graph.Entity(p.ID)
	if !ok {
		return nil, common.Errorf(common.KindNotFound, "entity %d not found", p.ID)
	}
	if want := entityKindFor(cmd.Kind); e.Kind != want {
		return nil, common.Errorf(common.KindInvalidArgument, "entity %d is a %s, not a %s", p.ID, e.Kind, want)
	}
	if deps := d.dependencyCount(e); deps > 0 && !p.Force {
		return nil, common.Errorf(common.KindDependenciesExist, "%s %d has %d remaining dependencies", e.Kind, e.ID, deps)
	}

	err = d.persist(ctx, "delete-entity", model.ChangeDelete, string(e.Kind), e.ID, cmd.SubmittedBy,
		fmt.Sprintf(`{"name":%q,"force":%t}`, e.Name, p.Force),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.DeleteEntity(ctx, p.ID)
		})
	if err != nil {
		return nil, err
	}

	// stale decisions must be unreachable before the change is visible
	d.cache.Invalidate()

	switch e.Kind {
	case model.KindUser:
		err = d.graph.RemoveUser(p.ID, p.Force)
	case model.KindGroup:
		err = d.graph.RemoveGroup(p.ID, p.Force)
	case model.KindRole:
		err = d.graph.RemoveRole(p.ID, p.Force)
	}
	if err != nil {
		return nil, err
	}

	logger.Infof(cmd.SubmittedBy, string(cmd.Kind), "deleted %s %d (%s)", e.Kind, e.ID, e.Name)
	return nil, nil
}

func (d *Dispatcher) createResource(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[ResourcePayload](cmd)
	if err != nil {
		return nil, err
	}
	if _, err := model.ParseURIPattern(p.URI); err != nil {
		return nil, err
	}
	if p.ParentID != 0 {
		if _, ok := d.graph.Resource(p.ParentID); !ok {
			return nil, common.Errorf(common.KindNotFound, "parent resource %d not found", p.ParentID)
		}
	}
	if _, ok := d.graph.ResourceByURI(p.URI); ok {
		return nil, common.Errorf(common.KindConflict, "resource with uri %q already exists", p.URI)
	}

	res := model.Resource{
		ID:           d.graph.NextID() + 1,
		URI:          p.URI,
		ResourceType: p.ResourceType,
		ParentID:     p.ParentID,
		CreatedAt:    d.now(),
	}
	err = d.persist(ctx, "save-resource", model.ChangeCreate, "Resource", res.ID, cmd.SubmittedBy, common.CompactJSON(p),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.SaveResource(ctx, res)
		})
	if err != nil {
		return nil, err
	}
	if err := d.graph.RestoreResource(res); err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) updateResource(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[ResourcePayload](cmd)
	if err != nil {
		return nil, err
	}
	res, ok := d.graph.Resource(p.ID)
	if !ok {
		return nil, common.Errorf(common.KindNotFound, "resource %d not found", p.ID)
	}

	updated := res
	updated.ResourceType = p.ResourceType
	err = d.persist(ctx, "save-resource", model.ChangeUpdate, "Resource", res.ID, cmd.SubmittedBy,
		fmt.Sprintf(`{"from":%q,"to":%q}`, res.ResourceType, p.ResourceType),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.SaveResource(ctx, updated)
		})
	if err != nil {
		return nil, err
	}
	if err := d.graph.SetResourceType(p.ID, p.ResourceType); err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *Dispatcher) deleteResource(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[DeletePayload](cmd)
	if err != nil {
		return nil, err
	}
	res, ok := d.graph.Resource(p.ID)
	if !ok {
		return nil, common.Errorf(common.KindNotFound, "resource %d not found", p.ID)
	}
	children := d.graph.ChildResources(p.ID)
	if len(children) > 0 && !p.Force {
		return nil, common.Errorf(common.KindDependenciesExist, "resource %d has %d child resources", p.ID, len(children))
	}

	err = d.persist(ctx, "delete-resource", model.ChangeDelete, "Resource", res.ID, cmd.SubmittedBy,
		fmt.Sprintf(`{"uri":%q,"force":%t}`, res.URI, p.Force),
		func(ctx context.Context, tx repository.Tx) error {
			if err := tx.DeleteResource(ctx, p.ID); err != nil {
				return err
			}
			// forced removal re-parents children onto the deleted node's
			// parent; their new lineage rides the same transaction
			for _, childID := range children {
				c, ok := d.graph.Resource(childID)
				if !ok {
					continue
				}
				c.ParentID = res.ParentID
				if err := tx.SaveResource(ctx, c); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	d.cache.Invalidate()
	if err := d.graph.RemoveResource(p.ID, p.Force); err != nil {
		return nil, err
	}
	return nil, nil
}

// linkSpec describes one relation-kind's wiring.
type linkSpec struct {
	relation   string
	changeType string
	entityType string
	removing   bool
}

var linkSpecs = map[Kind]linkSpec{
	AddUserToGroup:       {"user-group", model.ChangeAddMember, "Group", false},
	RemoveUserFromGroup:  {"user-group", model.ChangeRemoveMember, "Group", true},
	AssignUserToRole:     {"user-role", model.ChangeAssignRole, "User", false},
	UnassignUserFromRole: {"user-role", model.ChangeUnassignRole, "User", true},
	AddRoleToGroup:       {"group-role", model.ChangeAssignRole, "Group", false},
	RemoveRoleFromGroup:  {"group-role", model.ChangeUnassignRole, "Group", true},
	AddGroupToGroup:      {"group-group", model.ChangeAddChildGroup, "Group", false},
	RemoveGroupFromGroup: {"group-group", model.ChangeRemoveChildGroup, "Group", true},
}

// validateLink checks the preconditions of a relation change without
// mutating anything.
func (d *Dispatcher) validateLink(spec linkSpec, p LinkPayload) error {
	exists := func(id int64, kind model.EntityKind) error {
		e, ok := d.graph.Entity(id)
		if !ok {
			return common.Errorf(common.KindNotFound, "%s %d not found", strings.ToLower(string(kind)), id)
		}
		if e.Kind != kind {
			return common.Errorf(common.KindNotFound, "entity %d is a %s, not a %s", id, e.Kind, kind)
		}
		return nil
	}

	linked := false
	switch spec.relation {
	case "user-group":
		if err := exists(p.From, model.KindUser); err != nil {
			return err
		}
		if err := exists(p.To, model.KindGroup); err != nil {
			return err
		}
		linked = contains(d.graph.GroupsOfUser(p.From), p.To)
	case "user-role":
		if err := exists(p.From, model.KindUser); err != nil {
			return err
		}
		if err := exists(p.To, model.KindRole); err != nil {
			return err
		}
		linked = contains(d.graph.RolesOfUser(p.From), p.To)
	case "group-role":
		if err := exists(p.From, model.KindGroup); err != nil {
			return err
		}
		if err := exists(p.To, model.KindRole); err != nil {
			return err
		}
		linked = contains(d.graph.RolesOfGroup(p.From), p.To)
	case "group-group":
		if err := exists(p.From, model.KindGroup); err != nil {
			return err
		}
		if err := exists(p.To, model.KindGroup); err != nil {
			return err
		}
		if !spec.removing {
			if p.From == p.To {
				return common.Errorf(common.KindCycleDetected, "group %d cannot contain itself", p.From)
			}
			if d.graph.PathExists(p.To, p.From) {
				return common.Errorf(common.KindCycleDetected,
					"adding group %d under %d would create a cycle", p.To, p.From)
			}
		}
		linked = contains(d.graph.ChildGroups(p.From), p.To)
	}

	if spec.removing && !linked {
		return common.Errorf(common.KindNotFound, "relation %s %d->%d does not exist", spec.relation, p.From, p.To)
	}
	if !spec.removing && linked {
		return common.Errorf(common.KindConflict, "relation %s %d->%d already exists", spec.relation, p.From, p.To)
	}
	return nil
}

func contains(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (d *Dispatcher) link(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[LinkPayload](cmd)
	if err != nil {
		return nil, err
	}
	spec := linkSpecs[cmd.Kind]
	if err := d.validateLink(spec, p); err != nil {
		return nil, err
	}

	rel := repository.Relation{Kind: spec.relation, FromID: p.From, ToID: p.To}
	err = d.persist(ctx, "save-relation", spec.changeType, spec.entityType, p.From, cmd.SubmittedBy, common.CompactJSON(p),
		func(ctx context.Context, tx repository.Tx) error {
			if spec.removing {
				return tx.DeleteRelation(ctx, rel)
			}
			return tx.SaveRelation(ctx, rel)
		})
	if err != nil {
		return nil, err
	}

	d.cache.Invalidate()
	if err := d.applyLink(spec, p); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) applyLink(spec linkSpec, p LinkPayload) error {
	switch spec.relation {
	case "user-group":
		if spec.removing {
			return d.graph.UnlinkUserGroup(p.From, p.To)
		}
		return d.graph.LinkUserGroup(p.From, p.To)
	case "user-role":
		if spec.removing {
			return d.graph.UnassignUserRole(p.From, p.To)
		}
		return d.graph.AssignUserRole(p.From, p.To)
	case "group-role":
		if spec.removing {
			return d.graph.UnlinkGroupRole(p.From, p.To)
		}
		return d.graph.LinkGroupRole(p.From, p.To)
	default:
		if spec.removing {
			return d.graph.UnlinkGroups(p.From, p.To)
		}
		return d.graph.LinkGroups(p.From, p.To)
	}
}

func (d *Dispatcher) setPermission(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[PermissionPayload](cmd)
	if err != nil {
		return nil, err
	}
	scheme := p.Scheme
	if scheme == "" {
		scheme = model.SchemeAPIURI
	}
	perm := model.Permission{
		EntityID:   p.EntityID,
		ResourceID: p.ResourceID,
		Verb:       p.Verb,
		Scheme:     scheme,
		Grant:      cmd.Kind == GrantPermission,
		Deny:       cmd.Kind == DenyPermission,
	}
	if err := perm.Validate(); err != nil {
		return nil, err
	}
	if _, ok := d.graph.Entity(p.EntityID); !ok {
		return nil, common.Errorf(common.KindNotFound, "entity %d not found", p.EntityID)
	}
	if _, ok := d.graph.Resource(p.ResourceID); !ok {
		return nil, common.Errorf(common.KindNotFound, "resource %d not found", p.ResourceID)
	}
	// an opposite-flavor permission on the same tuple is replaced rather
	// than rejected, so a later deny supersedes an earlier grant
	replacing := false
	for _, existing := range d.graph.PermissionsFor(p.EntityID, p.ResourceID, p.Verb) {
		if existing.Scheme != scheme {
			continue
		}
		if existing.Grant == perm.Grant {
			return nil, common.Errorf(common.KindConflict,
				"permission for entity %d on resource %d verb %s already exists", p.EntityID, p.ResourceID, p.Verb)
		}
		replacing = true
	}

	changeType := model.ChangeGrant
	if perm.Deny {
		changeType = model.ChangeDeny
	}
	err = d.persist(ctx, "save-permission", changeType, "Permission", p.EntityID, cmd.SubmittedBy, common.CompactJSON(p),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.SavePermission(ctx, perm)
		})
	if err != nil {
		return nil, err
	}

	d.cache.Invalidate()
	if replacing {
		if err := d.graph.RemovePermission(p.EntityID, p.ResourceID, p.Verb); err != nil {
			return nil, err
		}
	}
	if err := d.graph.SetPermission(perm); err != nil {
		return nil, err
	}
	return perm, nil
}

func (d *Dispatcher) removePermission(ctx context.Context, cmd Command) (any, error) {
	p, err := payload[PermissionPayload](cmd)
	if err != nil {
		return nil, err
	}
	if len(d.graph.PermissionsFor(p.EntityID, p.ResourceID, p.Verb)) == 0 {
		return nil, common.Errorf(common.KindNotFound,
			"no permission for entity %d on resource %d verb %s", p.EntityID, p.ResourceID, p.Verb)
	}

	err = d.persist(ctx, "delete-permission", model.ChangeRevoke, "Permission", p.EntityID, cmd.SubmittedBy, common.CompactJSON(p),
		func(ctx context.Context, tx repository.Tx) error {
			return tx.DeletePermission(ctx, p.EntityID, p.ResourceID, p.Verb)
		})
	if err != nil {
		return nil, err
	}

	d.cache.Invalidate()
	if err := d.graph.RemovePermission(p.EntityID, p.ResourceID, p.Verb); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) getEntity(cmd Command) (any, error) {
	p, err := payload[IDPayload](cmd)
	if err != nil {
		return nil, err
	}
	e, ok := d.graph.Entity(p.ID)
	if !ok || e.Kind != entityKindFor(cmd.Kind) {
		return nil, common.Errorf(common.KindNotFound, "%s %d not found", entityKindFor(cmd.Kind), p.ID)
	}
	return e, nil
}

// Evaluate renders a decision with cache read-through. Unless probing,
// the outcome is recorded on the audit trail so repeated denials can
// surface as suspicious activity.
//
// The cache version is captured before the evaluation: should a
// mutation commit and invalidate while the decision is being computed,
// the insert lands behind the live generation and is never served.
func (d *Dispatcher) Evaluate(ctx context.Context, submittedBy string, p EvaluatePayload) model.Decision {
	key := cache.Key{EntityID: p.EntityID, URI: p.URI, Verb: p.Verb}
	if dec, ok := d.cache.Get(key); ok {
		return dec
	}

	version := d.cache.Version(p.EntityID)
	dec := d.eval.Evaluate(p.EntityID, p.URI, p.Verb)
	if p.Probe {
		return dec
	}

	changeType := model.ChangeAccessDenied
	if dec.Allowed() {
		changeType = model.ChangeAccessGranted
	}
	_, err := d.audit.Extend(changeType, "Entity", p.EntityID, submittedBy,
		fmt.Sprintf(`{"uri":%q,"verb":%q,"effect":%q}`, p.URI, p.Verb, dec.Effect),
		func(rec model.AuditRecord) error {
			return d.exec.Execute(ctx, "append-audit", func(ctx context.Context) error {
				tx, err := d.repo.Begin(ctx)
				if err != nil {
					return err
				}
				if err := tx.AppendAudit(ctx, rec); err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				return tx.Commit(ctx)
			})
		})
	if err != nil {
		// leave the cache cold so a later evaluation retries the record
		logger.Errorf(submittedBy, changeType, "access decision not recorded: %v", err)
		return dec
	}

	d.cache.Put(key, dec, version)
	return dec
}
