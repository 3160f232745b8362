//
//  Copyright © Manetu Inc. All rights reserved.
//

package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestEntityLifecycle(t *testing.T) {
	g := New()

	alice := g.AddUser("alice", now)
	eng := g.AddGroup("engineering", now)
	admin := g.AddRole("admin", now)

	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, int64(2), eng.ID)
	assert.Equal(t, int64(3), admin.ID)

	u, ok := g.User(alice.ID)
	require.True(t, ok)
	assert.Equal(t, "alice", u.Name)
	assert.Equal(t, model.KindUser, u.Kind)

	later := now.Add(time.Hour)
	require.NoError(t, g.Rename(alice.ID, "alice.smith", later))
	u, _ = g.User(alice.ID)
	assert.Equal(t, "alice.smith", u.Name)
	assert.Equal(t, later, u.UpdatedAt)
	assert.Equal(t, now, u.CreatedAt)

	err := g.Rename(99, "ghost", later)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))

	e, ok := g.Entity(eng.ID)
	require.True(t, ok)
	assert.Equal(t, model.KindGroup, e.Kind)
}

func TestUserGroupMembership(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	eng := g.AddGroup("engineering", now)

	require.NoError(t, g.LinkUserGroup(alice.ID, eng.ID))

	// duplicate membership is a conflict
	err := g.LinkUserGroup(alice.ID, eng.ID)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	assert.Equal(t, []int64{eng.ID}, g.GroupsOfUser(alice.ID))
	assert.Equal(t, []int64{alice.ID}, g.MembersOfGroup(eng.ID))

	require.NoError(t, g.UnlinkUserGroup(alice.ID, eng.ID))
	assert.Empty(t, g.GroupsOfUser(alice.ID))
	assert.Empty(t, g.MembersOfGroup(eng.ID))

	err = g.UnlinkUserGroup(alice.ID, eng.ID)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))

	err = g.LinkUserGroup(99, eng.ID)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestRoleAssignments(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	eng := g.AddGroup("engineering", now)
	admin := g.AddRole("admin", now)

	require.NoError(t, g.AssignUserRole(alice.ID, admin.ID))
	assert.Equal(t, common.KindConflict, common.KindOf(g.AssignUserRole(alice.ID, admin.ID)))
	assert.Equal(t, []int64{admin.ID}, g.RolesOfUser(alice.ID))

	require.NoError(t, g.LinkGroupRole(eng.ID, admin.ID))
	assert.Equal(t, common.KindConflict, common.KindOf(g.LinkGroupRole(eng.ID, admin.ID)))

	require.NoError(t, g.UnassignUserRole(alice.ID, admin.ID))
	require.NoError(t, g.UnlinkGroupRole(eng.ID, admin.ID))

	assert.Equal(t, common.KindNotFound, common.KindOf(g.UnassignUserRole(alice.ID, admin.ID)))
	assert.Equal(t, common.KindNotFound, common.KindOf(g.UnlinkGroupRole(eng.ID, admin.ID)))
}

func TestGroupNestingRejectsCycles(t *testing.T) {
	g := New()
	a := g.AddGroup("a", now)
	b := g.AddGroup("b", now)
	c := g.AddGroup("c", now)

	require.NoError(t, g.LinkGroups(a.ID, b.ID))
	require.NoError(t, g.LinkGroups(b.ID, c.ID))

	// c -> a would close the loop a -> b -> c -> a
	err := g.LinkGroups(c.ID, a.ID)
	assert.Equal(t, common.KindCycleDetected, common.KindOf(err))

	// direct back-edge
	err = g.LinkGroups(b.ID, a.ID)
	assert.Equal(t, common.KindCycleDetected, common.KindOf(err))

	// self-edge
	err = g.LinkGroups(a.ID, a.ID)
	assert.Equal(t, common.KindCycleDetected, common.KindOf(err))

	// the rejected edges left no residue
	require.NoError(t, g.UnlinkGroups(b.ID, c.ID))
	require.NoError(t, g.LinkGroups(c.ID, a.ID)) // now legal: c -> a -> b
}

func TestAncestorsOrdering(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	eng := g.AddGroup("engineering", now)
	corp := g.AddGroup("corp", now)
	admin := g.AddRole("admin", now)
	viewer := g.AddRole("viewer", now)

	require.NoError(t, g.LinkUserGroup(alice.ID, eng.ID))
	require.NoError(t, g.AssignUserRole(alice.ID, viewer.ID))
	require.NoError(t, g.LinkGroups(corp.ID, eng.ID))
	require.NoError(t, g.LinkGroupRole(corp.ID, admin.ID))

	order, parents, err := g.Ancestors(alice.ID)
	require.NoError(t, err)

	// self first, then direct relations, then inherited ones
	assert.Equal(t, []int64{alice.ID, eng.ID, viewer.ID, corp.ID, admin.ID}, order)

	// predecessor pointers trace the inheritance chain back to the entity
	assert.Equal(t, alice.ID, parents[eng.ID])
	assert.Equal(t, eng.ID, parents[corp.ID])
	assert.Equal(t, corp.ID, parents[admin.ID])
	_, hasSelf := parents[alice.ID]
	assert.False(t, hasSelf)

	_, _, err = g.Ancestors(99)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestAncestorsDeduplicatesDiamond(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	left := g.AddGroup("left", now)
	right := g.AddGroup("right", now)
	top := g.AddGroup("top", now)

	require.NoError(t, g.LinkUserGroup(alice.ID, left.ID))
	require.NoError(t, g.LinkUserGroup(alice.ID, right.ID))
	require.NoError(t, g.LinkGroups(top.ID, left.ID))
	require.NoError(t, g.LinkGroups(top.ID, right.ID))

	order, _, err := g.Ancestors(alice.ID)
	require.NoError(t, err)

	seen := map[int64]int{}
	for _, id := range order {
		seen[id]++
	}
	assert.Equal(t, 1, seen[top.ID])
	assert.Len(t, order, 4)
}

func TestResourceRegistration(t *testing.T) {
	g := New()

	api, err := g.AddResource("/api/*", "api", 0, now)
	require.NoError(t, err)
	users, err := g.AddResource("/api/users/{id}", "endpoint", api.ID, now)
	require.NoError(t, err)

	// duplicate URI
	_, err = g.AddResource("/api/*", "api", 0, now)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	// missing parent
	_, err = g.AddResource("/api/orders", "endpoint", 99, now)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))

	// malformed pattern
	_, err = g.AddResource("bad", "endpoint", 0, now)
	assert.Equal(t, common.KindInvalidArgument, common.KindOf(err))

	// most specific match wins
	match, ok := g.MatchResource("/api/users/42")
	require.True(t, ok)
	assert.Equal(t, users.ID, match.ID)

	match, ok = g.MatchResource("/api/orders/7")
	require.True(t, ok)
	assert.Equal(t, api.ID, match.ID)

	_, ok = g.MatchResource("/other/path")
	assert.False(t, ok)
}

func TestRemoveResourceReparentsChildren(t *testing.T) {
	g := New()
	root, _ := g.AddResource("/api/*", "api", 0, now)
	mid, _ := g.AddResource("/api/users/*", "collection", root.ID, now)
	leaf, _ := g.AddResource("/api/users/{id}", "endpoint", mid.ID, now)

	err := g.RemoveResource(mid.ID, false)
	assert.Equal(t, common.KindDependenciesExist, common.KindOf(err))

	require.NoError(t, g.RemoveResource(mid.ID, true))

	r, ok := g.Resource(leaf.ID)
	require.True(t, ok)
	assert.Equal(t, root.ID, r.ParentID)

	assert.Equal(t, common.KindNotFound, common.KindOf(g.RemoveResource(mid.ID, false)))
}

func TestRemoveResourceDropsPermissions(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	res, _ := g.AddResource("/api/users", "endpoint", 0, now)

	require.NoError(t, g.SetPermission(model.Permission{
		EntityID: alice.ID, ResourceID: res.ID, Verb: model.VerbGet, Scheme: model.SchemeAPIURI, Grant: true,
	}))
	require.NoError(t, g.RemoveResource(res.ID, false))
	assert.Empty(t, g.PermissionsOf(alice.ID))
}

func TestPermissionStorage(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	res, _ := g.AddResource("/api/users", "endpoint", 0, now)

	grant := model.Permission{
		EntityID: alice.ID, ResourceID: res.ID, Verb: model.VerbGet, Scheme: model.SchemeAPIURI, Grant: true,
	}
	require.NoError(t, g.SetPermission(grant))

	// same tuple again, even with the opposite flavor, is a conflict
	deny := grant
	deny.Grant = false
	deny.Deny = true
	assert.Equal(t, common.KindConflict, common.KindOf(g.SetPermission(deny)))

	// a different verb is a separate tuple
	post := grant
	post.Verb = model.VerbPost
	require.NoError(t, g.SetPermission(post))

	assert.Len(t, g.PermissionsOf(alice.ID), 2)
	assert.Len(t, g.PermissionsFor(alice.ID, res.ID, model.VerbGet), 1)

	require.NoError(t, g.RemovePermission(alice.ID, res.ID, model.VerbGet))
	assert.Equal(t, common.KindNotFound, common.KindOf(g.RemovePermission(alice.ID, res.ID, model.VerbGet)))
	assert.Len(t, g.PermissionsOf(alice.ID), 1)

	// unknown entity / resource
	bad := grant
	bad.EntityID = 99
	assert.Equal(t, common.KindNotFound, common.KindOf(g.SetPermission(bad)))
	bad = grant
	bad.Verb = model.VerbPut
	bad.ResourceID = 99
	assert.Equal(t, common.KindNotFound, common.KindOf(g.SetPermission(bad)))
}

func TestRemoveEntitiesWithDependencies(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	eng := g.AddGroup("engineering", now)
	admin := g.AddRole("admin", now)
	res, _ := g.AddResource("/api/users", "endpoint", 0, now)

	require.NoError(t, g.LinkUserGroup(alice.ID, eng.ID))
	require.NoError(t, g.AssignUserRole(alice.ID, admin.ID))
	require.NoError(t, g.LinkGroupRole(eng.ID, admin.ID))
	require.NoError(t, g.SetPermission(model.Permission{
		EntityID: eng.ID, ResourceID: res.ID, Verb: model.VerbGet, Scheme: model.SchemeAPIURI, Grant: true,
	}))

	assert.Equal(t, common.KindDependenciesExist, common.KindOf(g.RemoveUser(alice.ID, false)))
	assert.Equal(t, common.KindDependenciesExist, common.KindOf(g.RemoveGroup(eng.ID, false)))
	assert.Equal(t, common.KindDependenciesExist, common.KindOf(g.RemoveRole(admin.ID, false)))

	require.NoError(t, g.RemoveUser(alice.ID, true))
	assert.Empty(t, g.MembersOfGroup(eng.ID))

	require.NoError(t, g.RemoveGroup(eng.ID, true))
	require.NoError(t, g.RemoveRole(admin.ID, false)) // group force-removal detached it

	assert.Equal(t, common.KindNotFound, common.KindOf(g.RemoveUser(alice.ID, false)))
}

func TestForceRemoveGroupDetachesNesting(t *testing.T) {
	g := New()
	parent := g.AddGroup("parent", now)
	mid := g.AddGroup("mid", now)
	child := g.AddGroup("child", now)

	require.NoError(t, g.LinkGroups(parent.ID, mid.ID))
	require.NoError(t, g.LinkGroups(mid.ID, child.ID))

	require.NoError(t, g.RemoveGroup(mid.ID, true))

	// both sides detached: parent no longer blocks on children,
	// and child has no dangling parent
	require.NoError(t, g.RemoveGroup(parent.ID, false))
	require.NoError(t, g.RemoveGroup(child.ID, false))
}

func TestSnapshotRestore(t *testing.T) {
	g := New()

	require.NoError(t, g.RestoreEntity(model.Entity{ID: 7, Kind: model.KindUser, Name: "alice", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, g.RestoreEntity(model.Entity{ID: 9, Kind: model.KindGroup, Name: "eng", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, g.RestoreResource(model.Resource{ID: 12, URI: "/api/users", ResourceType: "endpoint", CreatedAt: now}))
	require.NoError(t, g.RestoreRelation("user-group", 7, 9))

	assert.Equal(t, common.KindInvalidArgument, common.KindOf(g.RestoreEntity(model.Entity{ID: 13, Kind: "widget"})))
	assert.Equal(t, common.KindInvalidArgument, common.KindOf(g.RestoreRelation("user-widget", 7, 9)))

	// the allocator stays ahead of restored ids
	next := g.AddUser("bob", now)
	assert.Equal(t, int64(13), next.ID)

	assert.Equal(t, []int64{9}, g.GroupsOfUser(7))
}

func TestStatistics(t *testing.T) {
	g := New()
	alice := g.AddUser("alice", now)
	g.AddGroup("eng", now)
	g.AddRole("admin", now)
	res, _ := g.AddResource("/api/users", "endpoint", 0, now)
	require.NoError(t, g.SetPermission(model.Permission{
		EntityID: alice.ID, ResourceID: res.ID, Verb: model.VerbGet, Scheme: model.SchemeAPIURI, Grant: true,
	}))

	stats := g.Statistics()
	assert.Equal(t, Stats{Users: 1, Groups: 1, Roles: 1, Resources: 1, Permissions: 1}, stats)
}
