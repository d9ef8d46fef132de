package authz

import (
	"errors"
	"testing"

	"craftmart/auth"
)

func TestEnforcer_DefaultPolicy(t *testing.T) {
	e := MustNew()

	cases := []struct {
		role auth.Role
		obj  Object
		act  Action
		want bool
	}{
		{auth.RoleCustomer, ObjectDispute, ActionCreate, true},
		{auth.RoleVendor, ObjectDispute, ActionCreate, false},
		{auth.RoleAdmin, ObjectDispute, ActionCreate, false},
		{auth.RoleVendor, ObjectDispute, ActionRespond, true},
		{auth.RoleCustomer, ObjectDispute, ActionResolve, false},
		{auth.RoleVendor, ObjectDispute, ActionResolve, false},
		{auth.RoleAdmin, ObjectDispute, ActionResolve, true},
		{auth.RoleAdmin, ObjectDispute, ActionReview, true},
		{auth.RoleCustomer, ObjectOrder, ActionCreate, true},
		{auth.RoleVendor, ObjectOrder, ActionFulfill, true},
		{auth.RoleCustomer, ObjectOrder, ActionFulfill, false},
		{auth.Role("intruder"), ObjectOrder, ActionRead, false},
	}
	for _, tc := range cases {
		if got := e.Allowed(tc.role, tc.obj, tc.act); got != tc.want {
			t.Fatalf("%s %s %s: expected %v got %v", tc.role, tc.act, tc.obj, tc.want, got)
		}
	}
}

func TestEnforcer_RequireAnonymous(t *testing.T) {
	e := MustNew()
	err := e.Require(auth.Identity{Role: auth.RoleAdmin}, ObjectDispute, ActionResolve)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for identity without user id, got %v", err)
	}
	if err := e.Require(auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}, ObjectDispute, ActionResolve); err != nil {
		t.Fatalf("expected admin to resolve, got %v", err)
	}
}

func TestEnforcer_CustomPolicy(t *testing.T) {
	e, err := NewWithPolicy([][]string{{"vendor", "dispute", "resolve"}})
	if err != nil {
		t.Fatalf("build enforcer: %v", err)
	}
	if !e.Allowed(auth.RoleVendor, ObjectDispute, ActionResolve) {
		t.Fatal("expected custom policy to grant vendor resolve")
	}
	if e.Allowed(auth.RoleAdmin, ObjectDispute, ActionResolve) {
		t.Fatal("expected custom policy to omit admin resolve")
	}
}
