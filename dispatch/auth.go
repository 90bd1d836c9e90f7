package dispatch

import (
	"xdao.co/routeplane/model"
)

// Capability names one guarded dispatcher operation.
type Capability string

const (
	CapCommit      Capability = "commit"
	CapApply       Capability = "apply"
	CapActivate    Capability = "activate"
	CapRemove      Capability = "remove"
	CapPause       Capability = "pause"
	CapFreeze      Capability = "freeze"
	CapRotateAdmin Capability = "rotate-admin"
	CapGrant       Capability = "grant"
)

// capabilityRoles lists, per capability, the roles any one of which suffices.
var capabilityRoles = map[Capability][]model.Role{
	CapCommit:      {model.RoleCommitter},
	CapApply:       {model.RoleApplier},
	CapActivate:    {model.RoleApplier, model.RoleCommitter},
	CapRemove:      {model.RoleApplier},
	CapPause:       {model.RoleEmergency},
	CapFreeze:      {model.RoleAdmin},
	CapRotateAdmin: {model.RoleAdmin},
	CapGrant:       {model.RoleAdmin},
}

// CheckPermission returns Unauthorized unless actor holds a role that grants
// capability in acl.
func CheckPermission(acl map[model.Address]model.Role, actor model.Address, capability Capability) error {
	allowed, ok := capabilityRoles[capability]
	if !ok {
		return model.Errorf(model.CodeUnauthorized, "unknown capability %q", capability)
	}
	held := acl[actor]
	for _, r := range allowed {
		if held.Has(r) {
			return nil
		}
	}
	return model.Errorf(model.CodeUnauthorized, "%s (roles %s) may not %s", actor, held, capability)
}
