//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package graph maintains the in-memory entity graph: users, groups,
// roles, resources, their relations, and the permissions attached to
// them.
//
// The graph is the source of truth for reads. It is governed by a
// reader-writer lock: any number of readers may run concurrently, while
// mutations are applied exclusively by the single command-buffer writer.
// Mutating methods acquire the write lock for the apply phase only;
// validation happens in the handlers beforehand, which is safe because
// the writer is the only mutator. The graph never initiates I/O.
//
// Entities are stored arena-style in kind-keyed maps and relations as id
// pairs mirrored on both sides, so group cycles are a structural check
// rather than an ownership problem.
package graph

import (
	"sync"
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

type idSet map[int64]struct{}

// Graph holds the entity arena and relation tables.
type Graph struct {
	mu     sync.RWMutex
	nextID int64

	users     map[int64]*model.User
	groups    map[int64]*model.Group
	roles     map[int64]*model.Role
	resources map[int64]*model.Resource
	patterns  map[int64]*model.URIPattern

	userGroups    map[int64]idSet // user -> groups
	groupUsers    map[int64]idSet // group -> users
	userRoles     map[int64]idSet // user -> roles
	roleUsers     map[int64]idSet // role -> users
	groupRoles    map[int64]idSet // group -> roles
	roleGroups    map[int64]idSet // role -> groups
	groupParents  map[int64]idSet // group -> parent groups
	groupChildren map[int64]idSet // group -> child groups

	resourceChildren map[int64]idSet // resource -> child resources

	permissions map[int64]map[model.PermissionKey]model.Permission // entity -> permissions
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		users:            map[int64]*model.User{},
		groups:           map[int64]*model.Group{},
		roles:            map[int64]*model.Role{},
		resources:        map[int64]*model.Resource{},
		patterns:         map[int64]*model.URIPattern{},
		userGroups:       map[int64]idSet{},
		groupUsers:       map[int64]idSet{},
		userRoles:        map[int64]idSet{},
		roleUsers:        map[int64]idSet{},
		groupRoles:       map[int64]idSet{},
		roleGroups:       map[int64]idSet{},
		groupParents:     map[int64]idSet{},
		groupChildren:    map[int64]idSet{},
		resourceChildren: map[int64]idSet{},
		permissions:      map[int64]map[model.PermissionKey]model.Permission{},
	}
}

func (g *Graph) allocateID() int64 {
	g.nextID++
	return g.nextID
}

// NextID previews the id the next created entity or resource would take.
// Intended for snapshot restore bookkeeping.
func (g *Graph) NextID() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nextID
}

// SetNextID advances the id allocator; used when loading a snapshot.
func (g *Graph) SetNextID(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.nextID {
		g.nextID = id
	}
}

// AddUser creates a new user with a fresh id.
func (g *Graph) AddUser(name string, now time.Time) *model.User {
	g.mu.Lock()
	defer g.mu.Unlock()

	u := &model.User{Entity: model.Entity{
		ID: g.allocateID(), Kind: model.KindUser, Name: name, CreatedAt: now, UpdatedAt: now,
	}}
	g.users[u.ID] = u
	return u
}

// AddGroup creates a new group with a fresh id.
func (g *Graph) AddGroup(name string, now time.Time) *model.Group {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp := &model.Group{Entity: model.Entity{
		ID: g.allocateID(), Kind: model.KindGroup, Name: name, CreatedAt: now, UpdatedAt: now,
	}}
	g.groups[grp.ID] = grp
	return grp
}

// AddRole creates a new role with a fresh id.
func (g *Graph) AddRole(name string, now time.Time) *model.Role {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := &model.Role{Entity: model.Entity{
		ID: g.allocateID(), Kind: model.KindRole, Name: name, CreatedAt: now, UpdatedAt: now,
	}}
	g.roles[r.ID] = r
	return r
}

// RestoreEntity inserts a previously persisted entity verbatim, keeping
// the id allocator ahead of it. Used only during snapshot load.
func (g *Graph) RestoreEntity(e model.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch e.Kind {
	case model.KindUser:
		g.users[e.ID] = &model.User{Entity: e}
	case model.KindGroup:
		g.groups[e.ID] = &model.Group{Entity: e}
	case model.KindRole:
		g.roles[e.ID] = &model.Role{Entity: e}
	default:
		return common.Errorf(common.KindInvalidArgument, "unknown entity kind %q", e.Kind)
	}
	if e.ID > g.nextID {
		g.nextID = e.ID
	}
	return nil
}

// Rename updates the display name of any entity kind.
func (g *Graph) Rename(id int64, name string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.entityRef(id)
	if e == nil {
		return common.Errorf(common.KindNotFound, "entity %d not found", id)
	}
	e.Name = name
	e.UpdatedAt = now
	return nil
}

// entityRef returns the mutable Entity for id regardless of kind.
// Caller must hold the lock.
func (g *Graph) entityRef(id int64) *model.Entity {
	if u, ok := g.users[id]; ok {
		return &u.Entity
	}
	if grp, ok := g.groups[id]; ok {
		return &grp.Entity
	}
	if r, ok := g.roles[id]; ok {
		return &r.Entity
	}
	return nil
}

// User returns a copy of the user with the given id.
func (g *Graph) User(id int64) (model.User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if u, ok := g.users[id]; ok {
		return *u, true
	}
	return model.User{}, false
}

// Group returns a copy of the group with the given id.
func (g *Graph) Group(id int64) (model.Group, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if grp, ok := g.groups[id]; ok {
		return *grp, true
	}
	return model.Group{}, false
}

// Role returns a copy of the role with the given id.
func (g *Graph) Role(id int64) (model.Role, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r, ok := g.roles[id]; ok {
		return *r, true
	}
	return model.Role{}, false
}

// Entity returns the entity with the given id, whatever its kind.
func (g *Graph) Entity(id int64) (model.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.entityRef(id); e != nil {
		return *e, true
	}
	return model.Entity{}, false
}

// Users lists all users.
func (g *Graph) Users() []model.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.User, 0, len(g.users))
	for _, u := range g.users {
		out = append(out, *u)
	}
	return out
}

// Groups lists all groups.
func (g *Graph) Groups() []model.Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Group, 0, len(g.groups))
	for _, grp := range g.groups {
		out = append(out, *grp)
	}
	return out
}

// Roles lists all roles.
func (g *Graph) Roles() []model.Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, *r)
	}
	return out
}

// AddResource registers a resource after compiling its URI pattern.
func (g *Graph) AddResource(uri, resourceType string, parentID int64, now time.Time) (*model.Resource, error) {
	pattern, err := model.ParseURIPattern(uri)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if parentID != 0 {
		if _, ok := g.resources[parentID]; !ok {
			return nil, common.Errorf(common.KindNotFound, "parent resource %d not found", parentID)
		}
	}
	for _, r := range g.resources {
		if r.URI == uri {
			return nil, common.Errorf(common.KindConflict, "resource with uri %q already exists", uri)
		}
	}

	res := &model.Resource{
		ID: g.allocateID(), URI: uri, ResourceType: resourceType, ParentID: parentID, CreatedAt: now,
	}
	g.resources[res.ID] = res
	g.patterns[res.ID] = pattern
	if parentID != 0 {
		addLink(g.resourceChildren, parentID, res.ID)
	}
	return res, nil
}

// RestoreResource inserts a previously persisted resource verbatim.
func (g *Graph) RestoreResource(res model.Resource) error {
	pattern, err := model.ParseURIPattern(res.URI)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r := res
	g.resources[r.ID] = &r
	g.patterns[r.ID] = pattern
	if r.ParentID != 0 {
		addLink(g.resourceChildren, r.ParentID, r.ID)
	}
	if r.ID > g.nextID {
		g.nextID = r.ID
	}
	return nil
}

// RemoveResource deletes a resource. Resources with children are rejected
// unless force is set, in which case children are re-parented to the
// removed resource's parent.
func (g *Graph) RemoveResource(id int64, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.resources[id]
	if !ok {
		return common.Errorf(common.KindNotFound, "resource %d not found", id)
	}
	children := g.resourceChildren[id]
	if len(children) > 0 && !force {
		return common.Errorf(common.KindDependenciesExist, "resource %d has %d child resources", id, len(children))
	}

	for child := range children {
		if c, ok := g.resources[child]; ok {
			c.ParentID = res.ParentID
			if res.ParentID != 0 {
				addLink(g.resourceChildren, res.ParentID, child)
			}
		}
	}
	if res.ParentID != 0 {
		removeLink(g.resourceChildren, res.ParentID, id)
	}
	delete(g.resourceChildren, id)
	delete(g.resources, id)
	delete(g.patterns, id)

	// drop permissions that referenced the resource
	for entityID, perms := range g.permissions {
		for key := range perms {
			if key.ResourceID == id {
				delete(perms, key)
			}
		}
		if len(perms) == 0 {
			delete(g.permissions, entityID)
		}
	}
	return nil
}

// Resource returns a copy of the resource with the given id.
func (g *Graph) Resource(id int64) (model.Resource, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r, ok := g.resources[id]; ok {
		return *r, true
	}
	return model.Resource{}, false
}

// ResourceByURI returns the resource registered under exactly the given
// URI pattern text.
func (g *Graph) ResourceByURI(uri string) (model.Resource, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.resources {
		if r.URI == uri {
			return *r, true
		}
	}
	return model.Resource{}, false
}

// ChildResources lists the direct child resources of a resource.
func (g *Graph) ChildResources(id int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.resourceChildren[id])
}

// SetResourceType updates the classification of a resource.
func (g *Graph) SetResourceType(id int64, resourceType string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.resources[id]
	if !ok {
		return common.Errorf(common.KindNotFound, "resource %d not found", id)
	}
	r.ResourceType = resourceType
	return nil
}

// Resources lists all resources.
func (g *Graph) Resources() []model.Resource {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.Resource, 0, len(g.resources))
	for _, r := range g.resources {
		out = append(out, *r)
	}
	return out
}

// MatchResource selects the most specific resource whose pattern matches
// the request URI.
func (g *Graph) MatchResource(uri string) (model.Resource, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best *model.Resource
	var bestPattern *model.URIPattern
	for id, pattern := range g.patterns {
		if !pattern.Match(uri) {
			continue
		}
		if best == nil || model.MoreSpecific(pattern, bestPattern) {
			best = g.resources[id]
			bestPattern = pattern
		}
	}
	if best == nil {
		return model.Resource{}, false
	}
	return *best, true
}

// Stats summarizes graph cardinality for health reporting.
type Stats struct {
	Users       int `json:"users"`
	Groups      int `json:"groups"`
	Roles       int `json:"roles"`
	Resources   int `json:"resources"`
	Permissions int `json:"permissions"`
}

// Statistics returns current graph cardinality.
func (g *Graph) Statistics() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	perms := 0
	for _, p := range g.permissions {
		perms += len(p)
	}
	return Stats{
		Users:       len(g.users),
		Groups:      len(g.groups),
		Roles:       len(g.roles),
		Resources:   len(g.resources),
		Permissions: perms,
	}
}

func addLink(m map[int64]idSet, from, to int64) {
	set := m[from]
	if set == nil {
		set = idSet{}
		m[from] = set
	}
	set[to] = struct{}{}
}

func removeLink(m map[int64]idSet, from, to int64) {
	if set := m[from]; set != nil {
		delete(set, to)
		if len(set) == 0 {
			delete(m, from)
		}
	}
}

func hasLink(m map[int64]idSet, from, to int64) bool {
	set := m[from]
	if set == nil {
		return false
	}
	_, ok := set[to]
	return ok
}
