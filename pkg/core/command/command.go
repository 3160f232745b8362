//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package command defines the mutation and query commands of the access
// control service, the FIFO buffer that serializes mutations onto the
// single writer, and the handlers that execute them.
package command

import (
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

// Kind discriminates command payloads. Commands form a closed sum type:
// the dispatcher matches on kind, there is no per-command polymorphism.
type Kind string

// Mutation kinds.
const (
	CreateUser Kind = "CreateUser"
	UpdateUser Kind = "UpdateUser"
	DeleteUser Kind = "DeleteUser"

	CreateGroup Kind = "CreateGroup"
	UpdateGroup Kind = "UpdateGroup"
	DeleteGroup Kind = "DeleteGroup"

	CreateRole Kind = "CreateRole"
	UpdateRole Kind = "UpdateRole"
	DeleteRole Kind = "DeleteRole"

	CreateResource Kind = "CreateResource"
	UpdateResource Kind = "UpdateResource"
	DeleteResource Kind = "DeleteResource"

	AddUserToGroup       Kind = "AddUserToGroup"
	RemoveUserFromGroup  Kind = "RemoveUserFromGroup"
	AssignUserToRole     Kind = "AssignUserToRole"
	UnassignUserFromRole Kind = "UnassignUserFromRole"
	AddRoleToGroup       Kind = "AddRoleToGroup"
	RemoveRoleFromGroup  Kind = "RemoveRoleFromGroup"
	AddGroupToGroup      Kind = "AddGroupToGroup"
	RemoveGroupFromGroup Kind = "RemoveGroupFromGroup"

	GrantPermission  Kind = "GrantPermission"
	DenyPermission   Kind = "DenyPermission"
	RemovePermission Kind = "RemovePermission"
)

// Query kinds. Queries never enter the writer queue; they run directly
// against the graph under the shared lock.
const (
	GetUser              Kind = "GetUser"
	GetUsers             Kind = "GetUsers"
	GetGroup             Kind = "GetGroup"
	GetGroups            Kind = "GetGroups"
	GetRole              Kind = "GetRole"
	GetRoles             Kind = "GetRoles"
	GetResources         Kind = "GetResources"
	CheckPermission      Kind = "CheckPermission"
	EvaluatePermission   Kind = "EvaluatePermission"
	GetEntityPermissions Kind = "GetEntityPermissions"
)

var queryKinds = map[Kind]bool{
	GetUser: true, GetUsers: true, GetGroup: true, GetGroups: true,
	GetRole: true, GetRoles: true, GetResources: true,
	CheckPermission: true, EvaluatePermission: true, GetEntityPermissions: true,
}

// IsQuery reports whether the kind bypasses the writer queue.
func (k Kind) IsQuery() bool {
	return queryKinds[k]
}

// Command is one tagged request submitted to the service.
type Command struct {
	RequestID   string    `json:"requestId"`
	Timestamp   time.Time `json:"timestamp"`
	SubmittedBy string    `json:"submittedBy"`
	// Deadline drops the command with Timeout if it has not been dequeued
	// in time. Zero means no deadline.
	Deadline time.Time `json:"deadline,omitempty"`
	Kind     Kind      `json:"kind"`
	Payload  any       `json:"payload"`
}

// NamePayload creates an entity (CreateUser/CreateGroup/CreateRole) or
// renames one (Update*).
type NamePayload struct {
	ID   int64  `json:"id,omitempty"` // updates only
	Name string `json:"name"`
}

// DeletePayload removes an entity or resource.
type DeletePayload struct {
	ID    int64 `json:"id"`
	Force bool  `json:"force,omitempty"`
}

// LinkPayload connects or disconnects two entities. For group nesting,
// From is the parent and To the child.
type LinkPayload struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// ResourcePayload creates or reclassifies a resource.
type ResourcePayload struct {
	ID           int64  `json:"id,omitempty"` // updates only
	URI          string `json:"uri"`
	ResourceType string `json:"resourceType,omitempty"`
	ParentID     int64  `json:"parentId,omitempty"`
}

// PermissionPayload grants, denies, or revokes a verb on a resource.
type PermissionPayload struct {
	EntityID   int64        `json:"entityId"`
	ResourceID int64        `json:"resourceId"`
	Verb       model.Verb   `json:"verb"`
	Scheme     model.Scheme `json:"scheme,omitempty"`
}

// EvaluatePayload asks whether an entity may perform a verb on a URI.
type EvaluatePayload struct {
	EntityID int64      `json:"entityId"`
	URI      string     `json:"uri"`
	Verb     model.Verb `json:"verb"`
	// Probe suppresses the access audit event and cache insertion,
	// allowing what-if evaluation without side effects.
	Probe bool `json:"probe,omitempty"`
}

// IDPayload addresses a single entity.
type IDPayload struct {
	ID int64 `json:"id"`
}
