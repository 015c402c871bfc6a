package authz

import (
	"kasirledger/backend/internal/domain"
)

// Capability is what an actor may do, resolved once per request.
type Capability struct {
	Role         domain.Role
	ShiftGated   bool
	ManageShifts bool
	CloseScopes  []domain.CloseScope
}

func Resolve(actor domain.Actor) (Capability, error) {
	if actor.UID == "" || actor.TenantID == "" {
		return Capability{}, domain.ErrUnauthenticated
	}
	switch actor.Role {
	case domain.RoleOwner:
		return Capability{
			Role:         domain.RoleOwner,
			ManageShifts: true,
			CloseScopes:  []domain.CloseScope{domain.ScopeAll, domain.ScopeMine, domain.ScopeOthers},
		}, nil
	case domain.RoleEmployee:
		return Capability{
			Role:        domain.RoleEmployee,
			ShiftGated:  true,
			CloseScopes: []domain.CloseScope{domain.ScopeMine},
		}, nil
	default:
		return Capability{}, domain.Errorf(domain.KindPermissionDenied, "role %q is not allowed", actor.Role)
	}
}

// CloseScope validates a requested closing scope. An empty request means "all"
// for owners and "mine" for employees.
func (c Capability) CloseScope(requested domain.CloseScope) (domain.CloseScope, error) {
	if requested == "" {
		if c.Role == domain.RoleOwner {
			return domain.ScopeAll, nil
		}
		return domain.ScopeMine, nil
	}
	for _, scope := range c.CloseScopes {
		if scope == requested {
			return scope, nil
		}
	}
	return "", domain.Errorf(domain.KindPermissionDenied, "%s may not close scope %q", c.Role, requested)
}
