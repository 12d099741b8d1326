package rbac

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission = string

const (
	PermProspectsView   Permission = "prospects.view"
	PermProspectsManage Permission = "prospects.manage"
	PermConversionRun   Permission = "conversion.run"
	PermCustomersView   Permission = "customers.view"
	PermCustomersManage Permission = "customers.manage"
	PermWorkflowManage  Permission = "workflow.manage"
	PermRequirementsUse Permission = "requirements.use"
	PermUploadsUse      Permission = "uploads.use"
	PermAuditView       Permission = "audit.view"
	PermTestDataReset   Permission = "testdata.reset"
)

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

const policyModel = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.perm, p.perm)
`

var defaultPolicy = [][]string{
	{RoleAdmin, "prospects.*"},
	{RoleAdmin, "conversion.*"},
	{RoleAdmin, "customers.*"},
	{RoleAdmin, "workflow.*"},
	{RoleAdmin, "audit.*"},
	{RoleAdmin, "testdata.*"},
	{RoleCustomer, PermRequirementsUse},
	{RoleCustomer, PermUploadsUse},
}

type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for _, rule := range defaultPolicy {
		if _, err := e.AddPolicy(rule[0], rule[1]); err != nil {
			return nil, err
		}
	}
	return &Policy{enforcer: e}, nil
}

func (p *Policy) Allowed(role string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	ok, err := p.enforcer.Enforce(role, string(perm))
	return err == nil && ok
}
