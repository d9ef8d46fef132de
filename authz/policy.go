// Package authz decides which role may perform which action on which kind of
// resource. Party membership (is this the dispute's vendor?) is checked by
// the owning domain package; this package only answers the role question.
package authz

import (
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"craftmart/auth"
)

// ErrForbidden is returned by Require when the role lacks the permission.
var ErrForbidden = errors.New("authz: forbidden")

type Object string

const (
	ObjectOrder   Object = "order"
	ObjectDispute Object = "dispute"
)

type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionFulfill Action = "fulfill"
	ActionCancel  Action = "cancel"
	ActionRespond Action = "respond"
	ActionReview  Action = "review"
	ActionResolve Action = "resolve"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// DefaultPolicy is the permission table of the marketplace roles.
var DefaultPolicy = [][]string{
	{string(auth.RoleCustomer), string(ObjectOrder), string(ActionCreate)},
	{string(auth.RoleCustomer), string(ObjectOrder), string(ActionRead)},
	{string(auth.RoleCustomer), string(ObjectOrder), string(ActionCancel)},
	{string(auth.RoleVendor), string(ObjectOrder), string(ActionRead)},
	{string(auth.RoleVendor), string(ObjectOrder), string(ActionFulfill)},
	{string(auth.RoleAdmin), string(ObjectOrder), string(ActionRead)},
	{string(auth.RoleAdmin), string(ObjectOrder), string(ActionFulfill)},

	{string(auth.RoleCustomer), string(ObjectDispute), string(ActionCreate)},
	{string(auth.RoleCustomer), string(ObjectDispute), string(ActionRead)},
	{string(auth.RoleCustomer), string(ObjectDispute), string(ActionRespond)},
	{string(auth.RoleVendor), string(ObjectDispute), string(ActionRead)},
	{string(auth.RoleVendor), string(ObjectDispute), string(ActionRespond)},
	{string(auth.RoleAdmin), string(ObjectDispute), string(ActionRead)},
	{string(auth.RoleAdmin), string(ObjectDispute), string(ActionRespond)},
	{string(auth.RoleAdmin), string(ObjectDispute), string(ActionReview)},
	{string(auth.RoleAdmin), string(ObjectDispute), string(ActionResolve)},
}

// Enforcer wraps a casbin enforcer loaded with the marketplace policy.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// New builds an enforcer using DefaultPolicy.
func New() (*Enforcer, error) {
	return NewWithPolicy(DefaultPolicy)
}

// NewWithPolicy builds an enforcer from an explicit policy table.
func NewWithPolicy(rules [][]string) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parse model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: build enforcer: %w", err)
	}
	if len(rules) > 0 {
		if _, err := e.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("authz: load policy: %w", err)
		}
	}
	return &Enforcer{e: e}, nil
}

// MustNew is New for wiring code and tests where the built-in policy cannot fail.
func MustNew() *Enforcer {
	e, err := New()
	if err != nil {
		panic(err)
	}
	return e
}

// Allowed reports whether role may perform act on obj. Evaluation errors deny.
func (e *Enforcer) Allowed(role auth.Role, obj Object, act Action) bool {
	ok, err := e.e.Enforce(string(role), string(obj), string(act))
	return err == nil && ok
}

// Require is Allowed returning ErrForbidden on denial.
func (e *Enforcer) Require(id auth.Identity, obj Object, act Action) error {
	if id.UserID == "" || !e.Allowed(id.Role, obj, act) {
		return fmt.Errorf("%w: %s may not %s %s", ErrForbidden, id.Role, act, obj)
	}
	return nil
}
