package auth

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const rbacModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

// Enforcer answers role permission checks from a casbin policy.
type Enforcer struct {
	casbin *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer seeded with policy, usually RolePermissions.
func NewEnforcer(policy map[string][]string) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	for role, perms := range policy {
		for _, perm := range perms {
			if _, err := e.AddPolicy(role, perm); err != nil {
				return nil, fmt.Errorf("rbac policy %s/%s: %w", role, perm, err)
			}
		}
	}
	return &Enforcer{casbin: e}, nil
}

func (e *Enforcer) HasPermission(ctx context.Context, role, permission string) (bool, error) {
	if role == "" {
		return false, nil
	}
	return e.casbin.Enforce(role, permission)
}
