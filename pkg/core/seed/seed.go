//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package seed loads access control fixtures from YAML files and
// applies them to a running service.
//
// A seed file declares users, groups, roles, resources and permissions
// by name; Apply resolves the names to the ids the service allocates
// and submits the corresponding commands. Seeding is a convenience for
// development and demos, not a durable import: every change lands on
// the audit trail like any other command.
//
// Example seed file:
//
//	apiVersion: acs.io/v1
//	kind: AccessSeed
//	users: [alice, bob]
//	roles: [viewer]
//	groups:
//	  - name: engineering
//	    members: [alice]
//	    roles: [viewer]
//	resources:
//	  - uri: /api/documents/*
//	    type: collection
//	permissions:
//	  - entity: engineering
//	    resource: /api/documents/*
//	    verb: GET
package seed

import (
	"context"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	core "github.com/JoshuaRamirez/ACS-sub003/pkg/core"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/command"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

var logger = logging.GetLogger("acs.seed")

const agent string = "seed"

// SubmittedBy is the actor recorded on audit entries produced by seeding.
const SubmittedBy = "seed"

// Preamble identifies the seed file format.
type Preamble struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
}

// GroupSpec declares a group, its members, and its role and nesting
// links. Members, roles and child groups are referenced by name and
// must be declared elsewhere in the document.
type GroupSpec struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members,omitempty"`
	Roles   []string `yaml:"roles,omitempty"`
	Groups  []string `yaml:"groups,omitempty"`
}

// ResourceSpec declares a resource by URI pattern. Children nest under
// their declaring resource.
type ResourceSpec struct {
	URI      string         `yaml:"uri"`
	Type     string         `yaml:"type,omitempty"`
	Children []ResourceSpec `yaml:"children,omitempty"`
}

// PermissionSpec declares one permission. Entity names are resolved
// against users, groups and roles; Resource is the declared URI. Effect
// is "grant" (the default) or "deny".
type PermissionSpec struct {
	Entity   string `yaml:"entity"`
	Resource string `yaml:"resource"`
	Verb     string `yaml:"verb"`
	Effect   string `yaml:"effect,omitempty"`
}

// Document is a parsed seed file.
type Document struct {
	APIVersion  string           `yaml:"apiVersion"`
	Kind        string           `yaml:"kind"`
	Users       []string         `yaml:"users,omitempty"`
	Roles       []string         `yaml:"roles,omitempty"`
	Groups      []GroupSpec      `yaml:"groups,omitempty"`
	Resources   []ResourceSpec   `yaml:"resources,omitempty"`
	Permissions []PermissionSpec `yaml:"permissions,omitempty"`
}

// Result maps the declared names to the ids the service allocated.
type Result struct {
	Users     map[string]int64
	Groups    map[string]int64
	Roles     map[string]int64
	Resources map[string]int64
}

// Load parses a seed file from a path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse parses a seed document from a reader.
func Parse(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var preamble Preamble
	if err := yaml.Unmarshal(data, &preamble); err != nil {
		return nil, err
	}
	if preamble.Kind != "AccessSeed" {
		return nil, common.Errorf(common.KindInvalidArgument, "expected AccessSeed got %q", preamble.Kind)
	}
	if preamble.APIVersion != "acs.io/v1" {
		return nil, common.Errorf(common.KindInvalidArgument, "unsupported AccessSeed API Version %q", preamble.APIVersion)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Apply submits the document to the service: entities first, then
// relations, resources, and permissions. Names already present in the
// graph are not deduplicated; applying the same document twice yields
// Conflict errors from the duplicate links.
func Apply(ctx context.Context, svc core.AccessService, doc *Document) (*Result, error) {
	res := &Result{
		Users:     map[string]int64{},
		Groups:    map[string]int64{},
		Roles:     map[string]int64{},
		Resources: map[string]int64{},
	}

	create := func(kind command.Kind, name string) (int64, error) {
		v, err := svc.Execute(ctx, command.Command{
			Kind:        kind,
			SubmittedBy: SubmittedBy,
			Payload:     command.NamePayload{Name: name},
		})
		if err != nil {
			return 0, err
		}
		return v.(model.Entity).ID, nil
	}

	for _, name := range doc.Users {
		id, err := create(command.CreateUser, name)
		if err != nil {
			return nil, err
		}
		res.Users[name] = id
	}
	for _, name := range doc.Roles {
		id, err := create(command.CreateRole, name)
		if err != nil {
			return nil, err
		}
		res.Roles[name] = id
	}
	for _, g := range doc.Groups {
		id, err := create(command.CreateGroup, g.Name)
		if err != nil {
			return nil, err
		}
		res.Groups[g.Name] = id
	}

	link := func(kind command.Kind, from, to int64) error {
		_, err := svc.Execute(ctx, command.Command{
			Kind:        kind,
			SubmittedBy: SubmittedBy,
			Payload:     command.LinkPayload{From: from, To: to},
		})
		return err
	}

	for _, g := range doc.Groups {
		gid := res.Groups[g.Name]
		for _, member := range g.Members {
			uid, ok := res.Users[member]
			if !ok {
				return nil, common.Errorf(common.KindInvalidArgument, "group %q references undeclared user %q", g.Name, member)
			}
			if err := link(command.AddUserToGroup, uid, gid); err != nil {
				return nil, err
			}
		}
		for _, role := range g.Roles {
			rid, ok := res.Roles[role]
			if !ok {
				return nil, common.Errorf(common.KindInvalidArgument, "group %q references undeclared role %q", g.Name, role)
			}
			if err := link(command.AddRoleToGroup, gid, rid); err != nil {
				return nil, err
			}
		}
		for _, child := range g.Groups {
			cid, ok := res.Groups[child]
			if !ok {
				return nil, common.Errorf(common.KindInvalidArgument, "group %q references undeclared group %q", g.Name, child)
			}
			if err := link(command.AddGroupToGroup, gid, cid); err != nil {
				return nil, err
			}
		}
	}

	var addResources func(specs []ResourceSpec, parent int64) error
	addResources = func(specs []ResourceSpec, parent int64) error {
		for _, spec := range specs {
			v, err := svc.Execute(ctx, command.Command{
				Kind:        command.CreateResource,
				SubmittedBy: SubmittedBy,
				Payload: command.ResourcePayload{
					URI:          spec.URI,
					ResourceType: spec.Type,
					ParentID:     parent,
				},
			})
			if err != nil {
				return err
			}
			id := v.(model.Resource).ID
			res.Resources[spec.URI] = id
			if err := addResources(spec.Children, id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := addResources(doc.Resources, 0); err != nil {
		return nil, err
	}

	for _, p := range doc.Permissions {
		entityID, err := res.lookupEntity(p.Entity)
		if err != nil {
			return nil, err
		}
		resourceID, ok := res.Resources[p.Resource]
		if !ok {
			return nil, common.Errorf(common.KindInvalidArgument, "permission references undeclared resource %q", p.Resource)
		}
		verb, err := model.ParseVerb(p.Verb)
		if err != nil {
			return nil, err
		}

		kind := command.GrantPermission
		switch strings.ToLower(p.Effect) {
		case "", "grant":
		case "deny":
			kind = command.DenyPermission
		default:
			return nil, common.Errorf(common.KindInvalidArgument, "unknown permission effect %q", p.Effect)
		}

		_, err = svc.Execute(ctx, command.Command{
			Kind:        kind,
			SubmittedBy: SubmittedBy,
			Payload: command.PermissionPayload{
				EntityID:   entityID,
				ResourceID: resourceID,
				Verb:       verb,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Infof(agent, "apply", "seeded %d users, %d groups, %d roles, %d resources, %d permissions",
		len(res.Users), len(res.Groups), len(res.Roles), len(res.Resources), len(doc.Permissions))
	return res, nil
}

// lookupEntity resolves a permission subject by name across users,
// groups and roles. Names shared between kinds are ambiguous.
func (r *Result) lookupEntity(name string) (int64, error) {
	var found []int64
	if id, ok := r.Users[name]; ok {
		found = append(found, id)
	}
	if id, ok := r.Groups[name]; ok {
		found = append(found, id)
	}
	if id, ok := r.Roles[name]; ok {
		found = append(found, id)
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return 0, common.Errorf(common.KindInvalidArgument, "permission references undeclared entity %q", name)
	default:
		return 0, common.Errorf(common.KindInvalidArgument, "entity name %q is ambiguous across kinds", name)
	}
}
