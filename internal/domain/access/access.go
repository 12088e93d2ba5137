// Package access decides which orders and which order fields a caller may
// see or change. Every read and write path goes through Allowed.
package access

// Role is the catalog role attached to an authenticated identity.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Identity is the caller as reported by the identity provider. The zero
// value is an anonymous guest.
type Identity struct {
	UserID        int64
	Authenticated bool
	Role          Role
	Staff         bool
	Name          string
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous() Identity { return Identity{} }

// Elevated reports whether the identity holds the admin or seller role.
func (id Identity) Elevated() bool {
	return id.Authenticated && (id.Role == RoleAdmin || id.Role == RoleSeller)
}

// Owner returns a pointer to the user ID for authenticated callers and nil
// for guests.
func (id Identity) Owner() *int64 {
	if !id.Authenticated {
		return nil
	}
	uid := id.UserID
	return &uid
}

// Action is an operation on an order.
type Action int

const (
	ActionList Action = iota
	ActionView
	ActionUpdate
	ActionViewPayment
)

func (a Action) String() string {
	switch a {
	case ActionList:
		return "list"
	case ActionView:
		return "view"
	case ActionUpdate:
		return "update"
	case ActionViewPayment:
		return "view_payment"
	default:
		return "unknown"
	}
}

// Allowed is the single authorization decision for orders. owner is the
// owning user of the order in question, nil for guest orders or when the
// action is not about a specific row.
func Allowed(id Identity, act Action, owner *int64) bool {
	if !id.Authenticated {
		return false
	}
	manager := id.Elevated() || id.Staff
	switch act {
	case ActionList:
		// Listing everything is reserved for catalog roles; the staff flag
		// alone only opens single orders.
		if id.Elevated() {
			return true
		}
		return owner != nil && *owner == id.UserID
	case ActionView:
		if manager {
			return true
		}
		return owner != nil && *owner == id.UserID
	case ActionUpdate:
		return manager
	case ActionViewPayment:
		return id.Staff || id.Role == RoleAdmin
	default:
		return false
	}
}

// ScopeKind selects which rows a listing may return.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeOwner
	ScopeAll
)

// ListScope is the row filter derived from an identity for listings.
type ListScope struct {
	Kind    ScopeKind
	OwnerID int64
}

// Scope converts the list rule of Allowed into a repository filter.
func Scope(id Identity) ListScope {
	switch {
	case Allowed(id, ActionList, nil):
		return ListScope{Kind: ScopeAll}
	case id.Authenticated:
		return ListScope{Kind: ScopeOwner, OwnerID: id.UserID}
	default:
		return ListScope{Kind: ScopeNone}
	}
}
