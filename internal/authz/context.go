// Package authz implements the authorization kernel (spec §4.F): a closed
// set of required contexts an operation declares, and a kernel that checks
// a resolved principal against them.
//
// Grounded on original_source/src/auth/structs.rs's Context/ContextVariant
// (closed sum type: Activated, ResourceContext(id,level), User(id),
// GlobalAdmin) and src/auth/permission_handler.rs's check_permissions
// (proxy-impersonation: a proxy-bearer token pushes an extra User(id)
// context for the impersonated principal and both sets of contexts must be
// satisfied). Spec §3 and §4.F add Public and SubscriberOwnerOf(id), which
// structs.rs doesn't name but §4.F's "Public always succeeds" and §4.J's
// "only owner/admin may poll" require.
package authz

import "github.com/cuemby/strata/internal/types"

// Context is a single requirement an operation declares; an operation may
// declare several, all of which must be satisfied (spec §4.F: "For each
// required context, check that...").
type Context struct {
	variant contextVariant
	// resourceIndex is meaningful for Resource and SubscriberOwnerOf.
	resourceIndex types.Index
	// level is meaningful only for Resource.
	level types.PermissionLevel
	// userIndex is meaningful only for User.
	userIndex types.Index
}

type contextVariant uint8

const (
	ctxPublic contextVariant = iota
	ctxActivated
	ctxUser
	ctxResource
	ctxGlobalAdmin
	ctxSubscriberOwner
)

// Public is satisfied unconditionally.
func Public() Context { return Context{variant: ctxPublic} }

// Activated requires the principal's User record to have active=true.
func Activated() Context { return Context{variant: ctxActivated} }

// User requires the principal to be exactly this user.
func User(idx types.Index) Context { return Context{variant: ctxUser, userIndex: idx} }

// Resource requires the principal to hold at least level over idx, via
// direct ownership, admin, or a permission edge (possibly inherited from
// an ancestor via belongs_to).
func Resource(idx types.Index, level types.PermissionLevel) Context {
	return Context{variant: ctxResource, resourceIndex: idx, level: level}
}

// GlobalAdmin requires the principal's admin flag.
func GlobalAdmin() Context { return Context{variant: ctxGlobalAdmin} }

// SubscriberOwnerOf requires the principal to own (or administer) the
// subscriber at idx, per spec §4.J: "only owner/admin may poll."
func SubscriberOwnerOf(idx types.Index) Context {
	return Context{variant: ctxSubscriberOwner, resourceIndex: idx}
}
