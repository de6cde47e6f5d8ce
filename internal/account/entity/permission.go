package entity

// PermissionPolicy decides individual permission checks for an account.
type PermissionPolicy interface {
	Allows(a *Account, perm string, target any) bool
}

// AllowAllPolicy grants every permission to every active account. It is the
// default placeholder and not an authorization policy; deployments that need
// real checks install a CapabilitySet or their own PermissionPolicy.
type AllowAllPolicy struct{}

func (AllowAllPolicy) Allows(*Account, string, any) bool { return true }

// CapabilitySet grants the named permissions. Admins hold everything.
// Target is ignored: grants are global.
type CapabilitySet map[string]struct{}

func NewCapabilitySet(perms ...string) CapabilitySet {
	cs := make(CapabilitySet, len(perms))
	for _, p := range perms {
		cs[p] = struct{}{}
	}
	return cs
}

func (cs CapabilitySet) Allows(a *Account, perm string, _ any) bool {
	if a.IsAdmin() {
		return true
	}
	_, ok := cs[perm]
	return ok
}
