//
//  Copyright © Manetu Inc. All rights reserved.
//

package graph

import (
	"sort"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

// LinkUserGroup adds a user to a group, maintaining both relation sides.
func (g *Graph) LinkUserGroup(userID, groupID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[userID]; !ok {
		return common.Errorf(common.KindNotFound, "user %d not found", userID)
	}
	if _, ok := g.groups[groupID]; !ok {
		return common.Errorf(common.KindNotFound, "group %d not found", groupID)
	}
	if hasLink(g.userGroups, userID, groupID) {
		return common.Errorf(common.KindConflict, "user %d already member of group %d", userID, groupID)
	}

	addLink(g.userGroups, userID, groupID)
	addLink(g.groupUsers, groupID, userID)
	return nil
}

// UnlinkUserGroup removes a user from a group.
func (g *Graph) UnlinkUserGroup(userID, groupID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !hasLink(g.userGroups, userID, groupID) {
		return common.Errorf(common.KindNotFound, "user %d is not a member of group %d", userID, groupID)
	}

	removeLink(g.userGroups, userID, groupID)
	removeLink(g.groupUsers, groupID, userID)
	return nil
}

// AssignUserRole assigns a role directly to a user.
func (g *Graph) AssignUserRole(userID, roleID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[userID]; !ok {
		return common.Errorf(common.KindNotFound, "user %d not found", userID)
	}
	if _, ok := g.roles[roleID]; !ok {
		return common.Errorf(common.KindNotFound, "role %d not found", roleID)
	}
	if hasLink(g.userRoles, userID, roleID) {
		return common.Errorf(common.KindConflict, "user %d already assigned role %d", userID, roleID)
	}

	addLink(g.userRoles, userID, roleID)
	addLink(g.roleUsers, roleID, userID)
	return nil
}

// UnassignUserRole removes a direct role assignment from a user.
func (g *Graph) UnassignUserRole(userID, roleID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !hasLink(g.userRoles, userID, roleID) {
		return common.Errorf(common.KindNotFound, "user %d is not assigned role %d", userID, roleID)
	}

	removeLink(g.userRoles, userID, roleID)
	removeLink(g.roleUsers, roleID, userID)
	return nil
}

// LinkGroupRole places a role into a group.
func (g *Graph) LinkGroupRole(groupID, roleID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[groupID]; !ok {
		return common.Errorf(common.KindNotFound, "group %d not found", groupID)
	}
	if _, ok := g.roles[roleID]; !ok {
		return common.Errorf(common.KindNotFound, "role %d not found", roleID)
	}
	if hasLink(g.groupRoles, groupID, roleID) {
		return common.Errorf(common.KindConflict, "group %d already contains role %d", groupID, roleID)
	}

	addLink(g.groupRoles, groupID, roleID)
	addLink(g.roleGroups, roleID, groupID)
	return nil
}

// UnlinkGroupRole removes a role from a group.
func (g *Graph) UnlinkGroupRole(groupID, roleID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !hasLink(g.groupRoles, groupID, roleID) {
		return common.Errorf(common.KindNotFound, "group %d does not contain role %d", groupID, roleID)
	}

	removeLink(g.groupRoles, groupID, roleID)
	removeLink(g.roleGroups, roleID, groupID)
	return nil
}

// LinkGroups adds a parent→child edge between groups. The edge is
// rejected with CycleDetected when the parent is reachable from the child,
// which keeps the parent relation a DAG.
func (g *Graph) LinkGroups(parentID, childID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[parentID]; !ok {
		return common.Errorf(common.KindNotFound, "group %d not found", parentID)
	}
	if _, ok := g.groups[childID]; !ok {
		return common.Errorf(common.KindNotFound, "group %d not found", childID)
	}
	if parentID == childID {
		return common.Errorf(common.KindCycleDetected, "group %d cannot contain itself", parentID)
	}
	if hasLink(g.groupChildren, parentID, childID) {
		return common.Errorf(common.KindConflict, "group %d already contains group %d", parentID, childID)
	}
	if g.reachable(childID, parentID) {
		return common.Errorf(common.KindCycleDetected, "adding group %d under %d would create a cycle", childID, parentID)
	}

	addLink(g.groupChildren, parentID, childID)
	addLink(g.groupParents, childID, parentID)
	return nil
}

// UnlinkGroups removes a parent→child edge between groups.
func (g *Graph) UnlinkGroups(parentID, childID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !hasLink(g.groupChildren, parentID, childID) {
		return common.Errorf(common.KindNotFound, "group %d does not contain group %d", parentID, childID)
	}

	removeLink(g.groupChildren, parentID, childID)
	removeLink(g.groupParents, childID, parentID)
	return nil
}

// reachable reports whether target can be reached from start following
// parent→child edges. Caller must hold the lock.
func (g *Graph) reachable(start, target int64) bool {
	stack := []int64{start}
	seen := idSet{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		for child := range g.groupChildren[cur] {
			stack = append(stack, child)
		}
	}
	return false
}

// GroupsOfUser lists the groups a user belongs to, ordered by id.
func (g *Graph) GroupsOfUser(userID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.userGroups[userID])
}

// RolesOfUser lists the roles directly assigned to a user, ordered by id.
func (g *Graph) RolesOfUser(userID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.userRoles[userID])
}

// MembersOfGroup lists the users in a group, ordered by id.
func (g *Graph) MembersOfGroup(groupID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.groupUsers[groupID])
}

// RolesOfGroup lists the roles contained by a group, ordered by id.
func (g *Graph) RolesOfGroup(groupID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.groupRoles[groupID])
}

// GroupsOfRole lists the groups containing a role, ordered by id.
func (g *Graph) GroupsOfRole(roleID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.roleGroups[roleID])
}

// UsersOfRole lists the users directly assigned a role, ordered by id.
func (g *Graph) UsersOfRole(roleID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.roleUsers[roleID])
}

// ChildGroups lists the direct child groups of a group, ordered by id.
func (g *Graph) ChildGroups(groupID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.groupChildren[groupID])
}

// ParentGroups lists the direct parent groups of a group, ordered by id.
func (g *Graph) ParentGroups(groupID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.groupParents[groupID])
}

// PathExists reports whether toID is reachable from fromID along
// parent→child group edges. Handlers use it to pre-check the cycle
// invariant before committing a new edge.
func (g *Graph) PathExists(fromID, toID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reachable(fromID, toID)
}

// Ancestors enumerates the inheritance set of an entity breadth-first:
// the entity itself, then its groups and roles, then parent groups and
// group roles outward. The result is deduplicated and terminates because
// the group relation is acyclic.
//
// The returned parents map carries the BFS predecessor of every visited
// id (absent for the entity itself), which callers use to reconstruct
// inheritance chains.
func (g *Graph) Ancestors(entityID int64) ([]int64, map[int64]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entityRef(entityID) == nil {
		return nil, nil, common.Errorf(common.KindNotFound, "entity %d not found", entityID)
	}

	order := []int64{entityID}
	parents := map[int64]int64{}
	seen := idSet{entityID: {}}
	queue := []int64{entityID}

	visit := func(from, to int64) {
		if _, ok := seen[to]; ok {
			return
		}
		seen[to] = struct{}{}
		parents[to] = from
		order = append(order, to)
		queue = append(queue, to)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, next := range sortedIDs(g.userGroups[cur]) {
			visit(cur, next)
		}
		for _, next := range sortedIDs(g.userRoles[cur]) {
			visit(cur, next)
		}
		for _, next := range sortedIDs(g.groupParents[cur]) {
			visit(cur, next)
		}
		for _, next := range sortedIDs(g.groupRoles[cur]) {
			visit(cur, next)
		}
	}

	return order, parents, nil
}

// SetPermission records a permission, enforcing grant/deny exclusivity
// and tuple uniqueness.
func (g *Graph) SetPermission(p model.Permission) error {
	if err := p.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entityRef(p.EntityID) == nil {
		return common.Errorf(common.KindNotFound, "entity %d not found", p.EntityID)
	}
	if _, ok := g.resources[p.ResourceID]; !ok {
		return common.Errorf(common.KindNotFound, "resource %d not found", p.ResourceID)
	}

	perms := g.permissions[p.EntityID]
	if perms == nil {
		perms = map[model.PermissionKey]model.Permission{}
		g.permissions[p.EntityID] = perms
	}
	if _, ok := perms[p.Key()]; ok {
		return common.Errorf(common.KindConflict,
			"permission for entity %d on resource %d verb %s already exists", p.EntityID, p.ResourceID, p.Verb)
	}

	perms[p.Key()] = p
	return nil
}

// RemovePermission deletes the permission tuples for (entity, resource,
// verb) across all schemes. NotFound when none exist.
func (g *Graph) RemovePermission(entityID, resourceID int64, verb model.Verb) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	perms := g.permissions[entityID]
	removed := false
	for key := range perms {
		if key.ResourceID == resourceID && key.Verb == verb {
			delete(perms, key)
			removed = true
		}
	}
	if !removed {
		return common.Errorf(common.KindNotFound,
			"no permission for entity %d on resource %d verb %s", entityID, resourceID, verb)
	}
	if len(perms) == 0 {
		delete(g.permissions, entityID)
	}
	return nil
}

// PermissionsOf lists the permissions attached directly to an entity.
func (g *Graph) PermissionsOf(entityID int64) []model.Permission {
	g.mu.RLock()
	defer g.mu.RUnlock()

	perms := g.permissions[entityID]
	out := make([]model.Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceID != out[j].ResourceID {
			return out[i].ResourceID < out[j].ResourceID
		}
		return out[i].Verb < out[j].Verb
	})
	return out
}

// PermissionsFor returns the permission tuples of one entity matching
// (resource, verb) in any scheme.
func (g *Graph) PermissionsFor(entityID, resourceID int64, verb model.Verb) []model.Permission {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.Permission
	for key, p := range g.permissions[entityID] {
		if key.ResourceID == resourceID && key.Verb == verb {
			out = append(out, p)
		}
	}
	return out
}

// RemoveUser deletes a user. Users with remaining memberships, role
// assignments, or permissions are rejected unless force is set.
func (g *Graph) RemoveUser(id int64, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.users[id]; !ok {
		return common.Errorf(common.KindNotFound, "user %d not found", id)
	}
	deps := len(g.userGroups[id]) + len(g.userRoles[id]) + len(g.permissions[id])
	if deps > 0 && !force {
		return common.Errorf(common.KindDependenciesExist, "user %d has %d remaining dependencies", id, deps)
	}

	for groupID := range g.userGroups[id] {
		removeLink(g.groupUsers, groupID, id)
	}
	delete(g.userGroups, id)
	for roleID := range g.userRoles[id] {
		removeLink(g.roleUsers, roleID, id)
	}
	delete(g.userRoles, id)
	delete(g.permissions, id)
	delete(g.users, id)
	return nil
}

// RemoveGroup deletes a group. Groups with child groups, members,
// contained roles, or permissions are rejected unless force is set, in
// which case every relation is detached on both sides.
func (g *Graph) RemoveGroup(id int64, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.groups[id]; !ok {
		return common.Errorf(common.KindNotFound, "group %d not found", id)
	}
	deps := len(g.groupChildren[id]) + len(g.groupUsers[id]) + len(g.groupRoles[id]) + len(g.permissions[id])
	if deps > 0 && !force {
		return common.Errorf(common.KindDependenciesExist, "group %d has %d remaining dependencies", id, deps)
	}

	for userID := range g.groupUsers[id] {
		removeLink(g.userGroups, userID, id)
	}
	delete(g.groupUsers, id)
	for roleID := range g.groupRoles[id] {
		removeLink(g.roleGroups, roleID, id)
	}
	delete(g.groupRoles, id)
	for childID := range g.groupChildren[id] {
		removeLink(g.groupParents, childID, id)
	}
	delete(g.groupChildren, id)
	for parentID := range g.groupParents[id] {
		removeLink(g.groupChildren, parentID, id)
	}
	delete(g.groupParents, id)
	delete(g.permissions, id)
	delete(g.groups, id)
	return nil
}

// RemoveRole deletes a role. Roles still contained by groups, assigned to
// users, or carrying permissions are rejected unless force is set.
func (g *Graph) RemoveRole(id int64, force bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.roles[id]; !ok {
		return common.Errorf(common.KindNotFound, "role %d not found", id)
	}
	deps := len(g.roleGroups[id]) + len(g.roleUsers[id]) + len(g.permissions[id])
	if deps > 0 && !force {
		return common.Errorf(common.KindDependenciesExist, "role %d has %d remaining dependencies", id, deps)
	}

	for groupID := range g.roleGroups[id] {
		removeLink(g.groupRoles, groupID, id)
	}
	delete(g.roleGroups, id)
	for userID := range g.roleUsers[id] {
		removeLink(g.userRoles, userID, id)
	}
	delete(g.roleUsers, id)
	delete(g.permissions, id)
	delete(g.roles, id)
	return nil
}

// RestoreRelation re-links a persisted relation during snapshot load.
func (g *Graph) RestoreRelation(kind string, fromID, toID int64) error {
	switch kind {
	case "user-group":
		return g.LinkUserGroup(fromID, toID)
	case "user-role":
		return g.AssignUserRole(fromID, toID)
	case "group-role":
		return g.LinkGroupRole(fromID, toID)
	case "group-group":
		return g.LinkGroups(fromID, toID)
	default:
		return common.Errorf(common.KindInvalidArgument, "unknown relation kind %q", kind)
	}
}

func sortedIDs(set idSet) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
