package auth

import (
	"github.com/keyxmakerx/schoolhub/internal/apperror"
)

// PolicyRule names the business rule a PolicyViolation breaks.
type PolicyRule string

const (
	RuleSelfAction   PolicyRule = "self_action"
	RuleSelfDemotion PolicyRule = "self_demotion"
	RuleLastAdmin    PolicyRule = "last_admin"
)

// PolicyViolation is the result of a handler-level policy check that the
// role gates cannot express, such as an admin acting on their own account.
// A nil *PolicyViolation means the action is allowed.
type PolicyViolation struct {
	Rule    PolicyRule
	Message string
}

func (v *PolicyViolation) Error() string {
	return string(v.Rule) + ": " + v.Message
}

// ForbidSelf refuses action when the actor is also the target.
func ForbidSelf(actor *Principal, targetID, action string) *PolicyViolation {
	if actor != nil && actor.ID == targetID {
		return &PolicyViolation{Rule: RuleSelfAction, Message: "cannot " + action + " own account"}
	}
	return nil
}

// ForbidSelfDemotion refuses an admin changing their own role to anything
// other than admin. A nil newRole changes nothing and is allowed.
func ForbidSelfDemotion(actor *Principal, targetID string, newRole *Role) *PolicyViolation {
	if actor == nil || actor.ID != targetID || newRole == nil {
		return nil
	}
	if actor.Role == RoleAdmin && *newRole != RoleAdmin {
		return &PolicyViolation{Rule: RuleSelfDemotion, Message: "cannot remove admin role from own account"}
	}
	return nil
}

// ForbidLastAdmin refuses removing the only remaining admin, either by
// deleting it or by giving it another role.
func ForbidLastAdmin(target *User, adminCount int, deleting bool, newRole *Role) *PolicyViolation {
	if target == nil || target.Role != RoleAdmin || adminCount > 1 {
		return nil
	}
	if deleting || (newRole != nil && *newRole != RoleAdmin) {
		return &PolicyViolation{Rule: RuleLastAdmin, Message: "cannot remove the last admin"}
	}
	return nil
}

// Enforce returns a 403 AppError for the first violation, or nil if there
// is none.
func Enforce(violations ...*PolicyViolation) error {
	for _, v := range violations {
		if v != nil {
			return apperror.NewForbidden(v.Message)
		}
	}
	return nil
}
