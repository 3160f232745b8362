//
//  Copyright © Manetu Inc. All rights reserved.
//

package command

import (
	"encoding/json"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

func decode[T any](raw json.RawMessage) (any, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, common.Errorf(common.KindInvalidArgument, "malformed payload: %v", err)
	}
	return p, nil
}

// PayloadFor unmarshals a raw JSON payload into the typed payload the
// kind expects. Transports decode incoming commands through this so the
// dispatcher only ever sees typed payloads.
func PayloadFor(kind Kind, raw json.RawMessage) (any, error) {
	switch kind {
	case CreateUser, UpdateUser, CreateGroup, UpdateGroup, CreateRole, UpdateRole:
		return decode[NamePayload](raw)
	case DeleteUser, DeleteGroup, DeleteRole, DeleteResource:
		return decode[DeletePayload](raw)
	case CreateResource, UpdateResource:
		return decode[ResourcePayload](raw)
	case AddUserToGroup, RemoveUserFromGroup,
		AssignUserToRole, UnassignUserFromRole,
		AddRoleToGroup, RemoveRoleFromGroup,
		AddGroupToGroup, RemoveGroupFromGroup:
		return decode[LinkPayload](raw)
	case GrantPermission, DenyPermission, RemovePermission:
		return decode[PermissionPayload](raw)
	case CheckPermission, EvaluatePermission:
		return decode[EvaluatePayload](raw)
	case GetUser, GetGroup, GetRole, GetEntityPermissions:
		return decode[IDPayload](raw)
	case GetUsers, GetGroups, GetRoles, GetResources:
		return nil, nil
	default:
		return nil, common.Errorf(common.KindInvalidArgument, "unknown command kind %q", kind)
	}
}
