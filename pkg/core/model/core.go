//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package model defines the entity, permission, and audit data model of
// the access control service.
//
// Users, Groups, and Roles share a single id-space so that any of them can
// be the subject of a [Permission]. Groups form a DAG through the
// parent/child relation; relations themselves live in the graph package and
// are represented as id pairs, never as owning pointers.
package model

import (
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

// EntityKind discriminates the three permission-subject kinds.
type EntityKind string

// Entity kinds.
const (
	KindUser  EntityKind = "User"
	KindGroup EntityKind = "Group"
	KindRole  EntityKind = "Role"
)

// Verb is an HTTP-style operation verb.
type Verb string

// Supported verbs.
const (
	VerbGet     Verb = "GET"
	VerbPost    Verb = "POST"
	VerbPut     Verb = "PUT"
	VerbDelete  Verb = "DELETE"
	VerbPatch   Verb = "PATCH"
	VerbHead    Verb = "HEAD"
	VerbOptions Verb = "OPTIONS"
)

var verbs = map[Verb]bool{
	VerbGet: true, VerbPost: true, VerbPut: true, VerbDelete: true,
	VerbPatch: true, VerbHead: true, VerbOptions: true,
}

// ParseVerb validates the supplied verb string.
func ParseVerb(s string) (Verb, error) {
	v := Verb(s)
	if !verbs[v] {
		return "", common.Errorf(common.KindInvalidArgument, "unrecognized verb %q", s)
	}
	return v, nil
}

// Scheme tags the authorization scheme a permission belongs to.
type Scheme string

// SchemeAPIURI is the default scheme for URI+verb permissions.
const SchemeAPIURI Scheme = "ApiUriAuthorization"

// Entity is the common identity shared by Users, Groups, and Roles.
// Ids are unique across all three kinds.
type Entity struct {
	ID        int64      `json:"id"`
	Kind      EntityKind `json:"kind"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// User is an Entity that may belong to Groups and be assigned Roles.
type User struct {
	Entity
}

// Group is an Entity that contains Users and Roles and may have parent
// and child Groups. The parent relation is acyclic.
type Group struct {
	Entity
}

// Role is an Entity contained by Groups and assignable to Users directly.
type Role struct {
	Entity
}

// Resource is a protected target addressed by a URI pattern.
type Resource struct {
	ID           int64     `json:"id"`
	URI          string    `json:"uri"`
	ResourceType string    `json:"resourceType,omitempty"`
	ParentID     int64     `json:"parentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Permission grants or denies a verb on a resource to an entity of any
// kind. Exactly one of Grant/Deny is true.
type Permission struct {
	EntityID   int64  `json:"entityId"`
	ResourceID int64  `json:"resourceId"`
	Verb       Verb   `json:"verb"`
	Scheme     Scheme `json:"scheme"`
	Grant      bool   `json:"grant"`
	Deny       bool   `json:"deny"`
}

// Validate checks the grant/deny exclusivity invariant and the verb.
func (p Permission) Validate() error {
	if p.Grant == p.Deny {
		return common.NewError(common.KindInvalidArgument, "permission must set exactly one of grant/deny")
	}
	if _, err := ParseVerb(string(p.Verb)); err != nil {
		return err
	}
	return nil
}

// Key identifies a permission tuple; at most one permission may exist per
// key.
func (p Permission) Key() PermissionKey {
	return PermissionKey{EntityID: p.EntityID, ResourceID: p.ResourceID, Verb: p.Verb, Scheme: p.Scheme}
}

// PermissionKey is the uniqueness key of a [Permission].
type PermissionKey struct {
	EntityID   int64
	ResourceID int64
	Verb       Verb
	Scheme     Scheme
}

// Effect is the outcome of a permission evaluation.
type Effect string

// Evaluation outcomes.
const (
	EffectAllowed Effect = "Allowed"
	EffectDenied  Effect = "Denied"
	EffectNoMatch Effect = "NoMatch"
)

// Decision is the result of evaluating (entity, uri, verb).
type Decision struct {
	Effect Effect `json:"effect"`
	Reason string `json:"reason"`
	// InheritedFrom is the ancestor carrying the deciding permission, when
	// it differs from the evaluated entity.
	InheritedFrom int64 `json:"inheritedFrom,omitempty"`
	// InheritanceChain is the path from the evaluated entity to the
	// deciding ancestor, self first.
	InheritanceChain []int64 `json:"inheritanceChain,omitempty"`
}

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllowed
}
