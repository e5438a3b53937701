// Package accesscontrol decides which account roles may perform administrative
// credential actions.
package accesscontrol

import (
	"fmt"
	"strings"

	"vaultkey-controlplane/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ObjectCredential = "credential"
	ActionRevokeAny  = "revoke_any"
)

const DefaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

const DefaultPolicy = `
p, admin, credential, revoke_any
g, superadmin, admin
`

var Module = fx.Module("accesscontrol",
	fx.Provide(New),
)

type Enforcer struct {
	e *casbin.Enforcer
}

// New builds the enforcer from ACCESS_CONTROL.MODEL/POLICY, falling back to the
// built-in model and policy.
func New(cfg *config.Config) (*Enforcer, error) {
	modelText := strings.TrimSpace(cfg.AccessControl.Model)
	if modelText == "" {
		modelText = DefaultModel
	}
	policyText := strings.TrimSpace(cfg.AccessControl.Policy)
	if policyText == "" {
		policyText = DefaultPolicy
	}
	return NewFromText(modelText, policyText)
}

func NewFromText(modelText, policyText string) (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(strings.TrimSpace(policyText)))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	return &Enforcer{e: e}, nil
}

func (a *Enforcer) Allowed(role, obj, act string) bool {
	ok, err := a.e.Enforce(role, obj, act)
	if err != nil {
		zap.L().Error("casbin enforce failed", zap.String("role", role), zap.Error(err))
		return false
	}
	return ok
}
